// Package story wires the bedtime-story pipeline: starting a session,
// advancing it through its checkpoints, and keeping the next branch pair
// generated ahead of the child's choice.
package story

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/lullabyte/lullabyte-backend/internal/domain/story"
	"github.com/lullabyte/lullabyte-backend/internal/modules/story/prompts"
	"github.com/lullabyte/lullabyte-backend/internal/modules/story/steps"
	"github.com/lullabyte/lullabyte-backend/internal/platform/apierr"
	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
	"github.com/lullabyte/lullabyte-backend/internal/platform/openai"
	"github.com/lullabyte/lullabyte-backend/internal/services"
)

// Scheduler hands background jobs to the worker pool. Keys deduplicate: a
// second submission for a key already in flight is absorbed.
type Scheduler interface {
	Schedule(key string, run func(ctx context.Context) error) bool
}

type UsecasesDeps struct {
	Log       *logger.Logger
	AI        openai.Client
	Media     services.MediaStore
	Sessions  services.SessionStore
	Meter     *services.MoralMeter
	Scheduler Scheduler
}

type Usecases struct {
	deps UsecasesDeps
}

func New(deps UsecasesDeps) Usecases { return Usecases{deps: deps} }

const (
	maxChildAge = 17

	audioProxyPath = "/api/story/audio"
	imageProxyPath = "/api/story/image"
)

type StartInput struct {
	ChildName          string   `json:"child_name"`
	ChildAge           int      `json:"child_age"`
	Interests          []string `json:"interests"`
	MoralFocus         string   `json:"moral_focus"`
	StoryLengthMinutes int      `json:"story_length_minutes"`
	Interactive        bool     `json:"interactive"`
	Voice              string   `json:"voice"`
	ImageStyle         string   `json:"image_style"`
}

type SegmentView struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	AudioURL   string `json:"audio_url"`
	ImageURL   string `json:"image_url,omitempty"`
	Checkpoint int    `json:"checkpoint"`
	ChoiceText string `json:"choice_text,omitempty"`
}

type BranchView struct {
	Choice  string      `json:"choice"`
	Segment SegmentView `json:"segment"`
}

type StartOutput struct {
	SessionID     string       `json:"session_id"`
	Title         string       `json:"title,omitempty"`
	Segment       SegmentView  `json:"segment"`
	NextBranches  []BranchView `json:"next_branches,omitempty"`
	StoryComplete bool         `json:"story_complete"`
}

type ContinueInput struct {
	SessionID    string `json:"session_id"`
	Checkpoint   int    `json:"checkpoint"`
	ChosenBranch string `json:"chosen_branch"`
}

type ContinueOutput struct {
	Segment       SegmentView  `json:"segment"`
	NextBranches  []BranchView `json:"next_branches,omitempty"`
	StoryComplete bool         `json:"story_complete"`
}

type StatusOutput struct {
	CurrentCheckpoint    int    `json:"current_checkpoint"`
	BranchesReady        bool   `json:"branches_ready"`
	GenerationInProgress bool   `json:"generation_in_progress"`
	GenerationState      string `json:"generation_state"`
	GenerationError      string `json:"generation_error,omitempty"`
	GenerationAttempts   int    `json:"generation_attempts"`
	StoryComplete        bool   `json:"story_complete"`
}

type BranchesOutput struct {
	BranchesReady bool         `json:"branches_ready"`
	Branches      []BranchView `json:"branches"`
}

type EvaluateOutput struct {
	Summary       string  `json:"summary"`
	MoralTakeaway string  `json:"moral_takeaway"`
	MoralScore    float64 `json:"moral_score"`
}

type RegenerateAudioInput struct {
	SessionID string `json:"session_id"`
	SegmentID string `json:"segment_id"`
	Voice     string `json:"voice"`
}

type RegenerateAudioOutput struct {
	SegmentID string `json:"segment_id"`
	AudioURL  string `json:"audio_url"`
}

// Start creates a session, synthesizes the opening segment synchronously and,
// for interactive stories, schedules pregeneration of the first branch pair.
func (u Usecases) Start(ctx context.Context, in StartInput) (StartOutput, error) {
	cfg, err := u.buildConfig(in)
	if err != nil {
		return StartOutput{}, err
	}

	sessionID := uuid.NewString()

	payload, err := u.deps.AI.GenerateStoryJSON(ctx,
		prompts.SystemPrompt(cfg),
		prompts.OpeningPrompt(cfg),
		prompts.SchemaOpeningSegment,
		prompts.OpeningSchema(),
	)
	if err != nil {
		return StartOutput{}, err
	}
	title, err := prompts.StringField(payload, "title")
	if err != nil {
		return StartOutput{}, err
	}
	text, err := prompts.StringField(payload, "text")
	if err != nil {
		return StartOutput{}, err
	}

	seg, err := steps.Synthesize(ctx, u.synthDeps(), steps.SynthesizeInput{
		SessionID:  sessionID,
		SegmentID:  domain.SegmentBaseID(0),
		Text:       text,
		Checkpoint: 0,
		Config:     cfg,
	})
	if err != nil {
		return StartOutput{}, err
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:              sessionID,
		Title:           title,
		Config:          cfg,
		GenerationState: domain.GenerationStateIdle,
		Segments:        []domain.Segment{seg},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := u.deps.Sessions.Save(ctx, sess); err != nil {
		return StartOutput{}, err
	}

	if !sess.IsComplete() {
		u.schedulePregeneration(sessionID, 1)
	}

	u.deps.Log.Info("Story session started",
		"session_id", sessionID,
		"interactive", cfg.Interactive,
		"total_checkpoints", cfg.TotalCheckpoints,
	)
	return StartOutput{
		SessionID:     sessionID,
		Title:         title,
		Segment:       u.segmentView(sessionID, seg),
		StoryComplete: sess.IsComplete(),
	}, nil
}

func (u Usecases) buildConfig(in StartInput) (domain.Config, error) {
	name := strings.TrimSpace(in.ChildName)
	if name == "" {
		return domain.Config{}, apierr.Validationf("child_name is required")
	}
	if in.ChildAge < 1 || in.ChildAge > maxChildAge {
		return domain.Config{}, apierr.Validationf("child_age %d out of range [1,%d]", in.ChildAge, maxChildAge)
	}
	moral := strings.ToLower(strings.TrimSpace(in.MoralFocus))
	if moral == "" {
		return domain.Config{}, apierr.Validationf("moral_focus is required")
	}

	structure, err := domain.CalculateStructure(in.StoryLengthMinutes, in.Interactive)
	if err != nil {
		return domain.Config{}, apierr.Validation(err)
	}

	preset, err := prompts.PresetFor(moral)
	if err != nil {
		return domain.Config{}, apierr.Storage(err)
	}
	voice := strings.TrimSpace(in.Voice)
	if voice == "" {
		voice = preset.Voice
	}
	style := strings.TrimSpace(in.ImageStyle)
	if style == "" {
		style = preset.ImageStyle
	}

	return domain.Config{
		Child: domain.ChildProfile{
			Name:      name,
			Age:       in.ChildAge,
			Interests: in.Interests,
		},
		MoralFocus:         moral,
		StoryLengthMinutes: in.StoryLengthMinutes,
		Interactive:        in.Interactive,
		TotalWords:         structure.TotalWords,
		WordsPerSegment:    structure.WordsPerSegment,
		TotalCheckpoints:   structure.TotalCheckpoints,
		Voice:              voice,
		ImageStyle:         style,
	}, nil
}

// Continue is synchronous: it only ever selects a branch segment that
// pregeneration already materialized. An absent branch means the client is
// out of sync with the session, never that generation should happen inline.
func (u Usecases) Continue(ctx context.Context, in ContinueInput) (ContinueOutput, error) {
	letter, ok := domain.NormalizeChoice(in.ChosenBranch)
	if !ok {
		return ContinueOutput{}, apierr.Validationf("chosen_branch must be A or B, got %q", in.ChosenBranch)
	}

	var chosen domain.Segment
	for attempt := 0; ; attempt++ {
		sess, err := u.deps.Sessions.Load(ctx, in.SessionID)
		if err != nil {
			return ContinueOutput{}, err
		}
		if sess.IsComplete() {
			return ContinueOutput{}, apierr.Validationf("story is already complete at checkpoint %d", sess.CurrentCheckpoint)
		}
		if in.Checkpoint != sess.CurrentCheckpoint+1 {
			return ContinueOutput{}, apierr.Validationf(
				"checkpoint %d is out of sequence, expected %d", in.Checkpoint, sess.CurrentCheckpoint+1)
		}
		chosen, ok = sess.FindSegment(domain.BranchSegmentID(in.Checkpoint, letter))
		if !ok {
			return ContinueOutput{}, apierr.Validationf(
				"branch %s for checkpoint %d is not available", letter, in.Checkpoint)
		}

		sess.ChosenPath = append(sess.ChosenPath, letter)
		sess.CurrentCheckpoint = in.Checkpoint
		sess.GenerationState = domain.GenerationStateIdle
		sess.GenerationError = ""

		err = u.deps.Sessions.Save(ctx, sess)
		if err == nil {
			out := ContinueOutput{
				Segment:       u.segmentView(sess.ID, chosen),
				StoryComplete: sess.IsComplete(),
			}
			if !sess.IsComplete() {
				out.NextBranches = u.branchViews(sess, sess.CurrentCheckpoint+1)
				u.schedulePregeneration(sess.ID, sess.CurrentCheckpoint+1)
			}
			u.deps.Log.Info("Story continued",
				"session_id", sess.ID,
				"checkpoint", sess.CurrentCheckpoint,
				"choice", letter,
				"complete", out.StoryComplete,
			)
			return out, nil
		}
		if !errors.Is(err, services.ErrVersionConflict) {
			return ContinueOutput{}, err
		}
		if attempt >= 2 {
			return ContinueOutput{}, apierr.Storage(fmt.Errorf("session %s: persistent write contention", in.SessionID))
		}
		// A pregeneration commit raced us; reload and redo the transition.
	}
}

func (u Usecases) Status(ctx context.Context, sessionID string) (StatusOutput, error) {
	sess, err := u.deps.Sessions.Load(ctx, sessionID)
	if err != nil {
		return StatusOutput{}, err
	}
	return StatusOutput{
		CurrentCheckpoint:    sess.CurrentCheckpoint,
		BranchesReady:        sess.NextBranchesReady(),
		GenerationInProgress: sess.GenerationInProgress(),
		GenerationState:      string(sess.GenerationState),
		GenerationError:      sess.GenerationError,
		GenerationAttempts:   sess.GenerationAttempts,
		StoryComplete:        sess.IsComplete(),
	}, nil
}

func (u Usecases) Branches(ctx context.Context, sessionID string, checkpoint int) (BranchesOutput, error) {
	if checkpoint < 1 {
		return BranchesOutput{}, apierr.Validationf("checkpoint must be at least 1, got %d", checkpoint)
	}
	sess, err := u.deps.Sessions.Load(ctx, sessionID)
	if err != nil {
		return BranchesOutput{}, err
	}
	views := u.branchViews(sess, checkpoint)
	if views == nil {
		// Not-yet-generated pairs serialize as an empty list, not null.
		views = []BranchView{}
	}
	return BranchesOutput{
		BranchesReady: len(views) == 2,
		Branches:      views,
	}, nil
}

func (u Usecases) Evaluate(ctx context.Context, sessionID string) (EvaluateOutput, error) {
	sess, err := u.deps.Sessions.Load(ctx, sessionID)
	if err != nil {
		return EvaluateOutput{}, err
	}
	eval, err := steps.Evaluate(ctx, steps.EvaluateDeps{
		Log:      u.deps.Log,
		AI:       u.deps.AI,
		Sessions: u.deps.Sessions,
		Meter:    u.deps.Meter,
	}, sess)
	if err != nil {
		return EvaluateOutput{}, err
	}
	return EvaluateOutput{
		Summary:       eval.Summary,
		MoralTakeaway: eval.MoralTakeaway,
		MoralScore:    eval.MoralScore,
	}, nil
}

// RegenerateAudio re-renders narration for an existing segment, optionally
// with a different voice, overwriting the stored object in place. The
// segment record itself is untouched; its audio key is stable.
func (u Usecases) RegenerateAudio(ctx context.Context, in RegenerateAudioInput) (RegenerateAudioOutput, error) {
	sess, err := u.deps.Sessions.Load(ctx, in.SessionID)
	if err != nil {
		return RegenerateAudioOutput{}, err
	}
	seg, ok := sess.FindSegment(in.SegmentID)
	if !ok {
		return RegenerateAudioOutput{}, apierr.Validationf("segment %q does not exist in this session", in.SegmentID)
	}

	voice := strings.TrimSpace(in.Voice)
	if voice == "" {
		voice = sess.Config.Voice
	}
	speech, err := u.deps.AI.GenerateSpeech(ctx, seg.Text, voice)
	if err != nil {
		return RegenerateAudioOutput{}, err
	}
	if err := u.deps.Media.Put(ctx, seg.AudioKey, speech.Bytes, speech.MimeType); err != nil {
		return RegenerateAudioOutput{}, err
	}

	u.deps.Log.Info("Segment audio regenerated",
		"session_id", sess.ID, "segment_id", seg.ID, "voice", voice)
	return RegenerateAudioOutput{
		SegmentID: seg.ID,
		AudioURL:  u.mediaURL(audioProxyPath, sess.ID, seg.ID, seg.AudioKey),
	}, nil
}

// OpenAudio streams a segment's narration for the proxy endpoint. The caller
// owns the ReadCloser.
func (u Usecases) OpenAudio(ctx context.Context, sessionID, segmentID string) (io.ReadCloser, string, error) {
	return u.openMedia(ctx, sessionID, segmentID, services.AudioKey(sessionID, segmentID))
}

func (u Usecases) OpenImage(ctx context.Context, sessionID, segmentID string) (io.ReadCloser, string, error) {
	return u.openMedia(ctx, sessionID, segmentID, services.ImageKey(sessionID, segmentID))
}

func (u Usecases) openMedia(ctx context.Context, sessionID, segmentID, key string) (io.ReadCloser, string, error) {
	sess, err := u.deps.Sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if _, ok := sess.FindSegment(segmentID); !ok {
		return nil, "", apierr.Validationf("segment %q does not exist in this session", segmentID)
	}
	return u.deps.Media.Open(ctx, key)
}

func (u Usecases) synthDeps() steps.SynthesizeDeps {
	return steps.SynthesizeDeps{Log: u.deps.Log, AI: u.deps.AI, Media: u.deps.Media}
}

func (u Usecases) schedulePregeneration(sessionID string, checkpoint int) {
	deps := steps.PregenerateDeps{
		Log:      u.deps.Log,
		AI:       u.deps.AI,
		Media:    u.deps.Media,
		Sessions: u.deps.Sessions,
	}
	key := "pregenerate:" + sessionID
	accepted := u.deps.Scheduler.Schedule(key, func(ctx context.Context) error {
		return steps.Pregenerate(ctx, deps, sessionID, checkpoint)
	})
	if !accepted {
		u.deps.Log.Debug("Pregeneration already scheduled", "session_id", sessionID, "checkpoint", checkpoint)
	}
}

func (u Usecases) branchViews(sess *domain.Session, checkpoint int) []BranchView {
	a, b, ok := sess.BranchPair(checkpoint)
	if !ok {
		return nil
	}
	return []BranchView{
		{Choice: a.Choice, Segment: u.segmentView(sess.ID, a.Segment)},
		{Choice: b.Choice, Segment: u.segmentView(sess.ID, b.Segment)},
	}
}

func (u Usecases) segmentView(sessionID string, seg domain.Segment) SegmentView {
	view := SegmentView{
		ID:         seg.ID,
		Text:       seg.Text,
		Checkpoint: seg.Checkpoint,
		ChoiceText: seg.ChoiceText,
		AudioURL:   u.mediaURL(audioProxyPath, sessionID, seg.ID, seg.AudioKey),
	}
	if seg.ImageKey != "" {
		view.ImageURL = u.mediaURL(imageProxyPath, sessionID, seg.ID, seg.ImageKey)
	}
	return view
}

// mediaURL prefers a direct public URL (CDN or public bucket) and falls back
// to the backend proxy route.
func (u Usecases) mediaURL(proxyPath, sessionID, segmentID, key string) string {
	if url := u.deps.Media.PublicURL(key); url != "" {
		return url
	}
	return fmt.Sprintf("%s/%s/%s", proxyPath, sessionID, segmentID)
}
