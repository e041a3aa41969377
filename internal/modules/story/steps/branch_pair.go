package steps

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/lullabyte/lullabyte-backend/internal/domain/story"
	"github.com/lullabyte/lullabyte-backend/internal/modules/story/prompts"
)

// BranchPair holds the two fully synthesized continuations offered at a
// checkpoint, always in A then B order.
type BranchPair struct {
	A story.Segment
	B story.Segment
}

// upstreamSegment is the narration the next branches continue from: the
// branch the child picked at the latest checkpoint, or the opening segment
// before any choice has been made. Unchosen branch text never feeds the
// continuation prompt.
func upstreamSegment(sess *story.Session) (story.Segment, bool) {
	if n := len(sess.ChosenPath); n > 0 {
		return sess.FindSegment(story.BranchSegmentID(sess.CurrentCheckpoint, sess.ChosenPath[n-1]))
	}
	return sess.FindSegment(story.SegmentBaseID(0))
}

// GenerateBranchPair asks the narrative model for both continuations at a
// checkpoint in a single call, then synthesizes audio and images for the two
// segments concurrently. A failure anywhere fails the whole pair; callers
// never see one usable branch and one broken one.
func GenerateBranchPair(ctx context.Context, deps SynthesizeDeps, sess *story.Session, checkpoint int) (BranchPair, error) {
	upstream := ""
	if seg, ok := upstreamSegment(sess); ok {
		upstream = seg.Text
	}

	payload, err := deps.AI.GenerateStoryJSON(ctx,
		prompts.SystemPrompt(sess.Config),
		prompts.ContinuationPrompt(sess.Config, upstream, checkpoint),
		prompts.SchemaBranchPair,
		prompts.BranchPairSchema(),
	)
	if err != nil {
		return BranchPair{}, err
	}

	choiceA, err := prompts.StringField(payload, "choice_a")
	if err != nil {
		return BranchPair{}, err
	}
	textA, err := prompts.StringField(payload, "segment_a")
	if err != nil {
		return BranchPair{}, err
	}
	choiceB, err := prompts.StringField(payload, "choice_b")
	if err != nil {
		return BranchPair{}, err
	}
	textB, err := prompts.StringField(payload, "segment_b")
	if err != nil {
		return BranchPair{}, err
	}

	var pair BranchPair
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		seg, err := Synthesize(gctx, deps, SynthesizeInput{
			SessionID:  sess.ID,
			SegmentID:  story.BranchSegmentID(checkpoint, "a"),
			Text:       textA,
			Checkpoint: checkpoint,
			ChoiceText: choiceA,
			Config:     sess.Config,
		})
		if err != nil {
			return err
		}
		pair.A = seg
		return nil
	})
	g.Go(func() error {
		seg, err := Synthesize(gctx, deps, SynthesizeInput{
			SessionID:  sess.ID,
			SegmentID:  story.BranchSegmentID(checkpoint, "b"),
			Text:       textB,
			Checkpoint: checkpoint,
			ChoiceText: choiceB,
			Config:     sess.Config,
		})
		if err != nil {
			return err
		}
		pair.B = seg
		return nil
	})
	if err := g.Wait(); err != nil {
		return BranchPair{}, err
	}
	return pair, nil
}
