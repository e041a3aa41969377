package story

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/lullabyte/lullabyte-backend/internal/platform/apierr"
	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
	"github.com/lullabyte/lullabyte-backend/internal/platform/openai"
	"github.com/lullabyte/lullabyte-backend/internal/services"
)

// inlineScheduler runs jobs synchronously so scenario tests observe the
// post-pregeneration state without sleeping.
type inlineScheduler struct{}

func (inlineScheduler) Schedule(_ string, run func(ctx context.Context) error) bool {
	_ = run(context.Background())
	return true
}

// manualScheduler queues jobs for the test to run when it chooses, modelling
// the window where a response went out but pregeneration has not finished.
type manualScheduler struct {
	jobs []func(ctx context.Context) error
}

func (m *manualScheduler) Schedule(_ string, run func(ctx context.Context) error) bool {
	m.jobs = append(m.jobs, run)
	return true
}

func (m *manualScheduler) drain(t *testing.T) {
	t.Helper()
	for _, run := range m.jobs {
		if err := run(context.Background()); err != nil {
			t.Fatalf("scheduled job: %v", err)
		}
	}
	m.jobs = nil
}

func newTestUsecases(t *testing.T, sched Scheduler) Usecases {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return New(UsecasesDeps{
		Log:       log,
		AI:        openai.NewFakeClient(),
		Media:     services.NewMemoryMediaStore(),
		Sessions:  services.NewMemorySessionStore(services.DefaultSessionTTL),
		Meter:     services.NewMoralMeter(),
		Scheduler: sched,
	})
}

func startInput() StartInput {
	return StartInput{
		ChildName:          "Mira",
		ChildAge:           5,
		Interests:          []string{"foxes", "stars"},
		MoralFocus:         "kindness",
		StoryLengthMinutes: 2,
		Interactive:        true,
	}
}

func TestStart_InputValidation(t *testing.T) {
	u := newTestUsecases(t, inlineScheduler{})
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*StartInput)
	}{
		{"empty name", func(in *StartInput) { in.ChildName = "  " }},
		{"age too low", func(in *StartInput) { in.ChildAge = 0 }},
		{"age too high", func(in *StartInput) { in.ChildAge = 42 }},
		{"no moral focus", func(in *StartInput) { in.MoralFocus = "" }},
		{"zero length", func(in *StartInput) { in.StoryLengthMinutes = 0 }},
		{"length too long", func(in *StartInput) { in.StoryLengthMinutes = 61 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := startInput()
			tc.mutate(&in)
			if _, err := u.Start(ctx, in); !apierr.IsKind(err, apierr.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestStart_NonInteractiveIsCompleteImmediately(t *testing.T) {
	sched := &manualScheduler{}
	u := newTestUsecases(t, sched)

	in := startInput()
	in.Interactive = false
	out, err := u.Start(context.Background(), in)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !out.StoryComplete {
		t.Fatal("non-interactive story must be complete immediately")
	}
	if len(sched.jobs) != 0 {
		t.Fatalf("non-interactive story scheduled %d jobs, want 0", len(sched.jobs))
	}
	if out.Segment.ID != "segment_1" || out.Segment.Checkpoint != 0 {
		t.Fatalf("unexpected opening segment: %+v", out.Segment)
	}
}

func TestInteractiveStory_FullRun(t *testing.T) {
	u := newTestUsecases(t, inlineScheduler{})
	ctx := context.Background()

	out, err := u.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if out.StoryComplete {
		t.Fatal("interactive story must not start complete")
	}
	if out.SessionID == "" || out.Title == "" {
		t.Fatalf("missing session id or title: %+v", out)
	}
	if out.Segment.AudioURL == "" {
		t.Fatal("opening segment has no audio URL")
	}

	// Inline scheduling means checkpoint-1 branches exist already.
	st, err := u.Status(ctx, out.SessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.CurrentCheckpoint != 0 || !st.BranchesReady || st.GenerationState != "ready" {
		t.Fatalf("unexpected status after start: %+v", st)
	}

	br, err := u.Branches(ctx, out.SessionID, 1)
	if err != nil {
		t.Fatalf("Branches: %v", err)
	}
	if !br.BranchesReady || len(br.Branches) != 2 {
		t.Fatalf("unexpected branches: %+v", br)
	}
	if br.Branches[0].Segment.ID != "segment_2a" || br.Branches[1].Segment.ID != "segment_2b" {
		t.Fatalf("branch order wrong: %q %q", br.Branches[0].Segment.ID, br.Branches[1].Segment.ID)
	}

	cont, err := u.Continue(ctx, ContinueInput{SessionID: out.SessionID, Checkpoint: 1, ChosenBranch: "A"})
	if err != nil {
		t.Fatalf("first Continue: %v", err)
	}
	if cont.StoryComplete {
		t.Fatal("story complete after first of two checkpoints")
	}
	if cont.Segment.ID != "segment_2a" || cont.Segment.Checkpoint != 1 {
		t.Fatalf("unexpected continue segment: %+v", cont.Segment)
	}

	// Lowercase input is accepted.
	cont, err = u.Continue(ctx, ContinueInput{SessionID: out.SessionID, Checkpoint: 2, ChosenBranch: "b"})
	if err != nil {
		t.Fatalf("second Continue: %v", err)
	}
	if !cont.StoryComplete {
		t.Fatal("story must be complete after final checkpoint")
	}
	if cont.Segment.ID != "segment_3b" {
		t.Fatalf("unexpected final segment id %q", cont.Segment.ID)
	}

	st, err = u.Status(ctx, out.SessionID)
	if err != nil {
		t.Fatalf("final Status: %v", err)
	}
	if !st.StoryComplete || st.CurrentCheckpoint != 2 {
		t.Fatalf("unexpected final status: %+v", st)
	}

	eval, err := u.Evaluate(ctx, out.SessionID)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.Summary == "" || eval.MoralTakeaway == "" {
		t.Fatalf("empty evaluation: %+v", eval)
	}
}

func TestBranches_EmptyListBeforePregeneration(t *testing.T) {
	sched := &manualScheduler{}
	u := newTestUsecases(t, sched)
	ctx := context.Background()

	out, err := u.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	br, err := u.Branches(ctx, out.SessionID, 1)
	if err != nil {
		t.Fatalf("Branches: %v", err)
	}
	if br.BranchesReady {
		t.Fatal("branches ready before the scheduled job ran")
	}
	data, err := json.Marshal(br)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"branches":[]`) {
		t.Fatalf("pending branches must serialize as an empty list, got %s", data)
	}
}

func TestContinue_BeforeBranchesReady(t *testing.T) {
	sched := &manualScheduler{}
	u := newTestUsecases(t, sched)
	ctx := context.Background()

	out, err := u.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	st, _ := u.Status(ctx, out.SessionID)
	if st.BranchesReady {
		t.Fatal("branches ready before the scheduled job ran")
	}

	_, err = u.Continue(ctx, ContinueInput{SessionID: out.SessionID, Checkpoint: 1, ChosenBranch: "A"})
	if !apierr.IsKind(err, apierr.KindValidation) {
		t.Fatalf("continue before branches exist: want validation error, got %v", err)
	}

	sched.drain(t)

	st, _ = u.Status(ctx, out.SessionID)
	if !st.BranchesReady || st.GenerationState != "ready" {
		t.Fatalf("unexpected status after drain: %+v", st)
	}
	if _, err := u.Continue(ctx, ContinueInput{SessionID: out.SessionID, Checkpoint: 1, ChosenBranch: "A"}); err != nil {
		t.Fatalf("Continue after drain: %v", err)
	}
}

func TestContinue_Validation(t *testing.T) {
	u := newTestUsecases(t, inlineScheduler{})
	ctx := context.Background()

	out, err := u.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := u.Continue(ctx, ContinueInput{SessionID: out.SessionID, Checkpoint: 2, ChosenBranch: "A"}); !apierr.IsKind(err, apierr.KindValidation) {
		t.Fatalf("out-of-sequence checkpoint: want validation error, got %v", err)
	}
	if _, err := u.Continue(ctx, ContinueInput{SessionID: out.SessionID, Checkpoint: 1, ChosenBranch: "C"}); !apierr.IsKind(err, apierr.KindValidation) {
		t.Fatalf("bad branch letter: want validation error, got %v", err)
	}
}

func TestUnknownSession_IsGone(t *testing.T) {
	u := newTestUsecases(t, inlineScheduler{})
	ctx := context.Background()

	if _, err := u.Status(ctx, "ghost"); !apierr.IsKind(err, apierr.KindSessionNotFound) {
		t.Fatalf("Status: want session-not-found, got %v", err)
	}
	if _, err := u.Continue(ctx, ContinueInput{SessionID: "ghost", Checkpoint: 1, ChosenBranch: "A"}); !apierr.IsKind(err, apierr.KindSessionNotFound) {
		t.Fatalf("Continue: want session-not-found, got %v", err)
	}
	if _, err := u.Evaluate(ctx, "ghost"); !apierr.IsKind(err, apierr.KindSessionNotFound) {
		t.Fatalf("Evaluate: want session-not-found, got %v", err)
	}
	if _, _, err := u.OpenAudio(ctx, "ghost", "segment_1"); !apierr.IsKind(err, apierr.KindSessionNotFound) {
		t.Fatalf("OpenAudio: want session-not-found, got %v", err)
	}
}

func TestEvaluate_RequiresCompletion(t *testing.T) {
	u := newTestUsecases(t, inlineScheduler{})
	ctx := context.Background()

	out, err := u.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := u.Evaluate(ctx, out.SessionID); !apierr.IsKind(err, apierr.KindValidation) {
		t.Fatalf("want validation error for unfinished story, got %v", err)
	}
}

func TestMediaProxy_RoundTrip(t *testing.T) {
	u := newTestUsecases(t, inlineScheduler{})
	ctx := context.Background()

	out, err := u.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	rc, ct, err := u.OpenAudio(ctx, out.SessionID, "segment_1")
	if err != nil {
		t.Fatalf("OpenAudio: %v", err)
	}
	defer rc.Close()
	if ct != "audio/mpeg" {
		t.Fatalf("content type = %q, want audio/mpeg", ct)
	}
	data, err := io.ReadAll(rc)
	if err != nil || len(data) == 0 {
		t.Fatalf("reading audio: %v, %d bytes", err, len(data))
	}

	if _, _, err := u.OpenImage(ctx, out.SessionID, "segment_1"); err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	if _, _, err := u.OpenAudio(ctx, out.SessionID, "segment_99"); !apierr.IsKind(err, apierr.KindValidation) {
		t.Fatalf("unknown segment: want validation error, got %v", err)
	}
}

func TestRegenerateAudio_OverwritesInPlace(t *testing.T) {
	u := newTestUsecases(t, inlineScheduler{})
	ctx := context.Background()

	out, err := u.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	regen, err := u.RegenerateAudio(ctx, RegenerateAudioInput{
		SessionID: out.SessionID,
		SegmentID: "segment_1",
		Voice:     "onyx",
	})
	if err != nil {
		t.Fatalf("RegenerateAudio: %v", err)
	}
	if regen.SegmentID != "segment_1" || regen.AudioURL == "" {
		t.Fatalf("unexpected output: %+v", regen)
	}

	rc, _, err := u.OpenAudio(ctx, out.SessionID, "segment_1")
	if err != nil {
		t.Fatalf("OpenAudio: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if !strings.Contains(string(data), "voice=onyx") {
		t.Fatalf("stored audio not regenerated with the new voice: %q", data)
	}

	if _, err := u.RegenerateAudio(ctx, RegenerateAudioInput{SessionID: out.SessionID, SegmentID: "nope"}); !apierr.IsKind(err, apierr.KindValidation) {
		t.Fatalf("unknown segment: want validation error, got %v", err)
	}
}

func TestCheckpointNeverDecreases(t *testing.T) {
	u := newTestUsecases(t, inlineScheduler{})
	ctx := context.Background()

	in := startInput()
	in.StoryLengthMinutes = 3
	out, err := u.Start(ctx, in)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	last := 0
	for cp := 1; cp <= 3; cp++ {
		if _, err := u.Continue(ctx, ContinueInput{SessionID: out.SessionID, Checkpoint: cp, ChosenBranch: "A"}); err != nil {
			t.Fatalf("Continue %d: %v", cp, err)
		}
		st, err := u.Status(ctx, out.SessionID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.CurrentCheckpoint < last {
			t.Fatalf("checkpoint decreased: %d -> %d", last, st.CurrentCheckpoint)
		}
		if st.CurrentCheckpoint > 3 {
			t.Fatalf("checkpoint %d exceeds total", st.CurrentCheckpoint)
		}
		last = st.CurrentCheckpoint
	}
	if last != 3 {
		t.Fatalf("final checkpoint = %d, want 3", last)
	}

	// Replaying an old checkpoint is rejected, never rewound.
	if _, err := u.Continue(ctx, ContinueInput{SessionID: out.SessionID, Checkpoint: 1, ChosenBranch: "A"}); !apierr.IsKind(err, apierr.KindValidation) {
		t.Fatalf("replay: want validation error, got %v", err)
	}
}
