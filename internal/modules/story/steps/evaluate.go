package steps

import (
	"context"
	"errors"
	"strings"

	"github.com/lullabyte/lullabyte-backend/internal/domain/story"
	"github.com/lullabyte/lullabyte-backend/internal/modules/story/prompts"
	"github.com/lullabyte/lullabyte-backend/internal/platform/apierr"
	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
	"github.com/lullabyte/lullabyte-backend/internal/platform/openai"
	"github.com/lullabyte/lullabyte-backend/internal/services"
)

type EvaluateDeps struct {
	Log      *logger.Logger
	AI       openai.Client
	Sessions services.SessionStore
	Meter    *services.MoralMeter
}

// Evaluate produces the parent-facing recap of a finished story: a model
// summary and takeaway plus a deterministic keyword score for the moral
// focus. The result is cached on the session, so repeat calls are free.
func Evaluate(ctx context.Context, deps EvaluateDeps, sess *story.Session) (story.Evaluation, error) {
	if sess.Evaluation != nil {
		return *sess.Evaluation, nil
	}
	if !sess.IsComplete() {
		return story.Evaluation{}, apierr.Validationf(
			"story is at checkpoint %d of %d and cannot be evaluated yet",
			sess.CurrentCheckpoint, sess.Config.TotalCheckpoints)
	}

	fullText := chosenPathText(sess)

	payload, err := deps.AI.GenerateStoryJSON(ctx,
		prompts.SystemPrompt(sess.Config),
		prompts.EvaluationPrompt(sess.Config, fullText),
		prompts.SchemaEvaluation,
		prompts.EvaluationSchema(),
	)
	if err != nil {
		return story.Evaluation{}, err
	}
	summary, err := prompts.StringField(payload, "summary")
	if err != nil {
		return story.Evaluation{}, err
	}
	takeaway, err := prompts.StringField(payload, "moral_takeaway")
	if err != nil {
		return story.Evaluation{}, err
	}

	eval := story.Evaluation{
		Summary:       summary,
		MoralTakeaway: takeaway,
		MoralScore:    deps.Meter.Score(sess.Config.MoralFocus, fullText),
	}

	sess.Evaluation = &eval
	if err := deps.Sessions.Save(ctx, sess); err != nil {
		if errors.Is(err, services.ErrVersionConflict) {
			// Another writer raced the cache write. The evaluation itself is
			// still good; the next call may recompute it.
			deps.Log.Debug("Evaluation cache write lost a version race", "session_id", sess.ID)
			return eval, nil
		}
		return story.Evaluation{}, err
	}
	return eval, nil
}

// chosenPathText joins the narration the child actually heard, in order,
// skipping the pregenerated branches that were never picked.
func chosenPathText(sess *story.Session) string {
	var parts []string
	for _, seg := range sess.Segments {
		if onChosenPath(sess, seg) {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func onChosenPath(sess *story.Session, seg story.Segment) bool {
	if seg.ChoiceText == "" && seg.ID == story.SegmentBaseID(seg.Checkpoint) {
		return true
	}
	if seg.Checkpoint >= 1 && seg.Checkpoint <= len(sess.ChosenPath) {
		choice := sess.ChosenPath[seg.Checkpoint-1]
		return seg.ID == story.BranchSegmentID(seg.Checkpoint, choice)
	}
	return false
}
