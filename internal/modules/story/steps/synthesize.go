// Package steps holds the story generation pipeline stages. Each step is a
// plain function over an explicit deps struct so the orchestration above it
// stays testable with fakes.
package steps

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lullabyte/lullabyte-backend/internal/domain/story"
	"github.com/lullabyte/lullabyte-backend/internal/modules/story/prompts"
	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
	"github.com/lullabyte/lullabyte-backend/internal/platform/openai"
	"github.com/lullabyte/lullabyte-backend/internal/services"
)

type SynthesizeDeps struct {
	Log   *logger.Logger
	AI    openai.Client
	Media services.MediaStore
}

type SynthesizeInput struct {
	SessionID  string
	SegmentID  string
	Text       string
	Checkpoint int
	ChoiceText string
	Config     story.Config
}

// Synthesize renders audio and an illustration for one segment of narration.
// The two generations race; both must land before anything is written to the
// media store, so a failed segment leaves no partial artifacts behind the
// session's back.
func Synthesize(ctx context.Context, deps SynthesizeDeps, in SynthesizeInput) (story.Segment, error) {
	if strings.TrimSpace(in.Text) == "" {
		return story.Segment{}, fmt.Errorf("segment %s has no text to synthesize", in.SegmentID)
	}

	var (
		speech openai.SpeechGeneration
		image  openai.ImageGeneration
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		speech, err = deps.AI.GenerateSpeech(gctx, in.Text, in.Config.Voice)
		return err
	})
	g.Go(func() error {
		var err error
		image, err = deps.AI.GenerateImage(gctx, prompts.ImagePrompt(in.Config, in.Text))
		return err
	})
	if err := g.Wait(); err != nil {
		return story.Segment{}, err
	}

	audioKey := services.AudioKey(in.SessionID, in.SegmentID)
	imageKey := services.ImageKey(in.SessionID, in.SegmentID)

	if err := deps.Media.Put(ctx, audioKey, speech.Bytes, speech.MimeType); err != nil {
		return story.Segment{}, err
	}
	if err := deps.Media.Put(ctx, imageKey, image.Bytes, image.MimeType); err != nil {
		return story.Segment{}, err
	}

	deps.Log.Debug("Segment synthesized",
		"session_id", in.SessionID,
		"segment_id", in.SegmentID,
		"audio_bytes", len(speech.Bytes),
		"image_bytes", len(image.Bytes),
	)

	return story.Segment{
		ID:         in.SegmentID,
		Text:       in.Text,
		AudioKey:   audioKey,
		ImageKey:   imageKey,
		Checkpoint: in.Checkpoint,
		ChoiceText: in.ChoiceText,
	}, nil
}
