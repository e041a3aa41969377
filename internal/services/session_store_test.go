package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lullabyte/lullabyte-backend/internal/domain/story"
	"github.com/lullabyte/lullabyte-backend/internal/platform/apierr"
)

func testSession(id string) *story.Session {
	return &story.Session{
		ID: id,
		Config: story.Config{
			Child:              story.ChildProfile{Name: "Mira", Age: 5},
			MoralFocus:         "kindness",
			StoryLengthMinutes: 2,
			Interactive:        true,
			TotalWords:         300,
			WordsPerSegment:    100,
			TotalCheckpoints:   2,
		},
		GenerationState: story.GenerationStateIdle,
		Segments: []story.Segment{
			{ID: "segment_1", Text: "Once upon a time.", AudioKey: id + "/segment_1.mp3", Checkpoint: 0},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestSessionStore_RoundTrip(t *testing.T) {
	st := NewMemorySessionStore(time.Hour)
	ctx := context.Background()

	s := testSession("ses_roundtrip")
	if err := st.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	if s.Version != 1 {
		t.Fatalf("version after first save = %d", s.Version)
	}

	loaded, err := st.Load(ctx, "ses_roundtrip")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Field-for-field identity, excluding the store-managed timestamp.
	loaded.UpdatedAt = s.UpdatedAt
	a, _ := json.Marshal(s)
	b, _ := json.Marshal(loaded)
	if string(a) != string(b) {
		t.Fatalf("round trip mismatch:\nsaved:  %s\nloaded: %s", a, b)
	}
}

func TestSessionStore_UnknownSession(t *testing.T) {
	st := NewMemorySessionStore(time.Hour)
	_, err := st.Load(context.Background(), "ses_missing")
	if !apierr.IsKind(err, apierr.KindSessionNotFound) {
		t.Fatalf("expected session_not_found, got %v", err)
	}
}

func TestSessionStore_Expiry(t *testing.T) {
	st := NewMemorySessionStore(time.Hour).(*memorySessionStore)
	base := time.Now()
	st.now = func() time.Time { return base }

	ctx := context.Background()
	s := testSession("ses_expiring")
	if err := st.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	st.now = func() time.Time { return base.Add(13 * time.Hour) }
	if _, err := st.Load(ctx, "ses_expiring"); !apierr.IsKind(err, apierr.KindSessionNotFound) {
		t.Fatalf("expected session_not_found after expiry, got %v", err)
	}

	// A writer finishing after expiry must not resurrect the document.
	if err := st.Save(ctx, s); !apierr.IsKind(err, apierr.KindSessionNotFound) {
		t.Fatalf("expected session_not_found on post-expiry save, got %v", err)
	}
}

func TestSessionStore_VersionConflict(t *testing.T) {
	st := NewMemorySessionStore(time.Hour)
	ctx := context.Background()

	s := testSession("ses_conflict")
	if err := st.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	first, err := st.Load(ctx, "ses_conflict")
	if err != nil {
		t.Fatalf("load first: %v", err)
	}
	second, err := st.Load(ctx, "ses_conflict")
	if err != nil {
		t.Fatalf("load second: %v", err)
	}

	first.GenerationState = story.GenerationStateGenerating
	if err := st.Save(ctx, first); err != nil {
		t.Fatalf("save first copy: %v", err)
	}

	second.GenerationState = story.GenerationStateReady
	if err := st.Save(ctx, second); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestSessionStore_RejectsInvalidOnSave(t *testing.T) {
	st := NewMemorySessionStore(time.Hour)
	s := testSession("ses_invalid")
	s.ChosenPath = []string{"A"} // length != current_checkpoint
	if err := st.Save(context.Background(), s); !apierr.IsKind(err, apierr.KindStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestSessionStore_CorruptStoredDocument(t *testing.T) {
	st := NewMemorySessionStore(time.Hour).(*memorySessionStore)
	ctx := context.Background()

	s := testSession("ses_corrupt")
	if err := st.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	st.corruptStored("ses_corrupt", []byte(`{"id":"ses_corrupt","version":1}`))
	if _, err := st.Load(ctx, "ses_corrupt"); !apierr.IsKind(err, apierr.KindStorage) {
		t.Fatalf("expected storage error for corrupt document, got %v", err)
	}
}
