package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/lullabyte/lullabyte-backend/internal/domain/story"
	"github.com/lullabyte/lullabyte-backend/internal/platform/apierr"
	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
	"github.com/lullabyte/lullabyte-backend/internal/platform/openai"
	"github.com/lullabyte/lullabyte-backend/internal/services"
)

type PregenerateDeps struct {
	Log      *logger.Logger
	AI       openai.Client
	Media    services.MediaStore
	Sessions services.SessionStore
}

func (d PregenerateDeps) synth() SynthesizeDeps {
	return SynthesizeDeps{Log: d.Log, AI: d.AI, Media: d.Media}
}

// Pregenerate builds both branch continuations for the given checkpoint ahead
// of the child reaching it. It runs as a background job: every observation it
// makes about the session goes through the store, and every write is a
// compare-and-set, so a concurrent continue or a duplicate job makes this one
// back off instead of corrupting the session.
func Pregenerate(ctx context.Context, deps PregenerateDeps, sessionID string, checkpoint int) error {
	sess, err := deps.Sessions.Load(ctx, sessionID)
	if err != nil {
		if apierr.IsKind(err, apierr.KindSessionNotFound) {
			deps.Log.Debug("Pregeneration skipped, session gone", "session_id", sessionID)
			return nil
		}
		return err
	}
	if skip, reason := pregenerateStale(sess, checkpoint); skip {
		deps.Log.Debug("Pregeneration skipped", "session_id", sessionID, "checkpoint", checkpoint, "reason", reason)
		return nil
	}

	sess, err = markGenerating(ctx, deps, sess, checkpoint)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	pair, genErr := GenerateBranchPair(ctx, deps.synth(), sess, checkpoint)
	if genErr != nil {
		deps.Log.Warn("Branch pregeneration failed",
			"session_id", sessionID, "checkpoint", checkpoint, "error", genErr)
		markPregenerateFailed(ctx, deps, sessionID, checkpoint, genErr)
		return genErr
	}

	return commitBranchPair(ctx, deps, sessionID, checkpoint, pair)
}

func pregenerateStale(sess *story.Session, checkpoint int) (bool, string) {
	switch {
	case sess.IsComplete():
		return true, "story complete"
	case checkpoint != sess.CurrentCheckpoint+1:
		return true, "checkpoint no longer next"
	case checkpoint > sess.Config.TotalCheckpoints:
		return true, "checkpoint beyond story structure"
	case sess.BranchesReady(checkpoint):
		return true, "branches already present"
	default:
		return false, ""
	}
}

// markGenerating claims the pregeneration slot for this job. A nil session
// with nil error means another writer got there first and this job should
// stand down.
func markGenerating(ctx context.Context, deps PregenerateDeps, sess *story.Session, checkpoint int) (*story.Session, error) {
	for attempt := 0; attempt < 2; attempt++ {
		sess.GenerationState = story.GenerationStateGenerating
		sess.GenerationError = ""
		sess.GenerationAttempts++
		err := deps.Sessions.Save(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, services.ErrVersionConflict) {
			return nil, err
		}
		sess, err = deps.Sessions.Load(ctx, sess.ID)
		if err != nil {
			if apierr.IsKind(err, apierr.KindSessionNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if skip, _ := pregenerateStale(sess, checkpoint); skip {
			return nil, nil
		}
	}
	return nil, nil
}

func commitBranchPair(ctx context.Context, deps PregenerateDeps, sessionID string, checkpoint int, pair BranchPair) error {
	for attempt := 0; attempt < 2; attempt++ {
		sess, err := deps.Sessions.Load(ctx, sessionID)
		if err != nil {
			if apierr.IsKind(err, apierr.KindSessionNotFound) {
				return nil
			}
			return err
		}
		if sess.IsComplete() || checkpoint != sess.CurrentCheckpoint+1 {
			// The session moved on while we were generating; the pair is
			// for a dead branch point, so drop it.
			deps.Log.Debug("Discarding stale branch pair",
				"session_id", sessionID, "checkpoint", checkpoint)
			return nil
		}
		if sess.BranchesReady(checkpoint) {
			return nil
		}
		if err := sess.AppendSegments(pair.A, pair.B); err != nil {
			return fmt.Errorf("appending branch pair: %w", err)
		}
		sess.GenerationState = story.GenerationStateReady
		sess.GenerationError = ""

		err = deps.Sessions.Save(ctx, sess)
		if err == nil {
			deps.Log.Info("Branches pregenerated",
				"session_id", sessionID, "checkpoint", checkpoint)
			return nil
		}
		if !errors.Is(err, services.ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("committing branch pair for checkpoint %d: persistent version conflict", checkpoint)
}

// markPregenerateFailed records the failure on the session so status polling
// can surface it. Best effort: the original generation error is what matters,
// so store trouble here is only logged.
func markPregenerateFailed(ctx context.Context, deps PregenerateDeps, sessionID string, checkpoint int, cause error) {
	for attempt := 0; attempt < 2; attempt++ {
		sess, err := deps.Sessions.Load(ctx, sessionID)
		if err != nil {
			if !apierr.IsKind(err, apierr.KindSessionNotFound) {
				deps.Log.Warn("Could not record pregeneration failure",
					"session_id", sessionID, "error", err)
			}
			return
		}
		if checkpoint != sess.CurrentCheckpoint+1 || sess.BranchesReady(checkpoint) {
			return
		}
		sess.GenerationState = story.GenerationStateFailed
		sess.GenerationError = cause.Error()

		err = deps.Sessions.Save(ctx, sess)
		if err == nil || !errors.Is(err, services.ErrVersionConflict) {
			if err != nil {
				deps.Log.Warn("Could not record pregeneration failure",
					"session_id", sessionID, "error", err)
			}
			return
		}
	}
}
