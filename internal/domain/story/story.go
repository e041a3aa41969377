// Package story holds the session aggregate for one bedtime story and the
// pure rules around it: segment identity, branch pairing, checkpoint
// progression, and structural validation.
package story

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GenerationState is the background pregeneration state of a session. The
// failed state is explicit so a stalled story is distinguishable from one
// that was never kicked off.
type GenerationState string

const (
	GenerationStateIdle       GenerationState = "idle"
	GenerationStateGenerating GenerationState = "generating"
	GenerationStateReady      GenerationState = "ready"
	GenerationStateFailed     GenerationState = "failed"
)

func (s GenerationState) Valid() bool {
	switch s {
	case GenerationStateIdle, GenerationStateGenerating, GenerationStateReady, GenerationStateFailed:
		return true
	default:
		return false
	}
}

type ChildProfile struct {
	Name      string   `json:"name"`
	Age       int      `json:"age"`
	Interests []string `json:"interests,omitempty"`
}

// Config is immutable after session creation.
type Config struct {
	Child              ChildProfile `json:"child"`
	MoralFocus         string       `json:"moral_focus"`
	StoryLengthMinutes int          `json:"story_length_minutes"`
	Interactive        bool         `json:"interactive"`
	TotalWords         int          `json:"total_words"`
	WordsPerSegment    int          `json:"words_per_segment"`
	TotalCheckpoints   int          `json:"total_checkpoints"`
	Voice              string       `json:"voice,omitempty"`
	ImageStyle         string       `json:"image_style,omitempty"`
}

// Segment is one unit of narration. AudioKey and ImageKey address the object
// store (sessionID/segmentID.mp3 / .png). ChoiceText is set only on branch
// segments.
type Segment struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	AudioKey   string `json:"audio_key"`
	ImageKey   string `json:"image_key,omitempty"`
	Checkpoint int    `json:"checkpoint"`
	ChoiceText string `json:"choice_text,omitempty"`
}

// Branch pairs a human-readable choice label with its segment. Branches are
// only ever produced in matched (A, B) pairs.
type Branch struct {
	Choice  string  `json:"choice"`
	Segment Segment `json:"segment"`
}

type Evaluation struct {
	Summary       string  `json:"summary"`
	MoralTakeaway string  `json:"moral_takeaway"`
	MoralScore    float64 `json:"moral_score"`
}

// Session is the aggregate root for one story instance. It is persisted as a
// single JSON document and always read/written wholesale.
type Session struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Config Config `json:"config"`

	CurrentCheckpoint  int             `json:"current_checkpoint"`
	ChosenPath         []string        `json:"chosen_path"`
	Segments           []Segment       `json:"segments"`
	GenerationState    GenerationState `json:"generation_state"`
	GenerationError    string          `json:"generation_error,omitempty"`
	GenerationAttempts int             `json:"generation_attempts"`
	Evaluation         *Evaluation     `json:"evaluation,omitempty"`

	// Version is the optimistic concurrency counter; the store rejects a
	// save whose version does not match the stored document.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SegmentBaseID derives the stable segment ID base for a checkpoint. The
// opening segment (checkpoint 0) is segment_1; branch candidates offered for
// checkpoint k are segment_<k+1>a and segment_<k+1>b.
func SegmentBaseID(checkpoint int) string {
	return "segment_" + strconv.Itoa(checkpoint+1)
}

func BranchSegmentID(checkpoint int, letter string) string {
	return SegmentBaseID(checkpoint) + strings.ToLower(letter)
}

// NormalizeChoice maps client input onto the canonical "A"/"B" labels.
func NormalizeChoice(raw string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "A":
		return "A", true
	case "B":
		return "B", true
	default:
		return "", false
	}
}

func (s *Session) FindSegment(id string) (Segment, bool) {
	for _, seg := range s.Segments {
		if seg.ID == id {
			return seg, true
		}
	}
	return Segment{}, false
}

// BranchesReady reports whether both branch segments for the given checkpoint
// have been materialized. This is the single source of the
// next_branches_ready API field.
func (s *Session) BranchesReady(checkpoint int) bool {
	_, okA := s.FindSegment(BranchSegmentID(checkpoint, "a"))
	_, okB := s.FindSegment(BranchSegmentID(checkpoint, "b"))
	return okA && okB
}

func (s *Session) NextBranchesReady() bool {
	return s.BranchesReady(s.CurrentCheckpoint + 1)
}

func (s *Session) GenerationInProgress() bool {
	return s.GenerationState == GenerationStateGenerating
}

// BranchPair reconstructs the (A, B) pair for a checkpoint, in that order.
func (s *Session) BranchPair(checkpoint int) (Branch, Branch, bool) {
	segA, okA := s.FindSegment(BranchSegmentID(checkpoint, "a"))
	segB, okB := s.FindSegment(BranchSegmentID(checkpoint, "b"))
	if !okA || !okB {
		return Branch{}, Branch{}, false
	}
	return Branch{Choice: segA.ChoiceText, Segment: segA},
		Branch{Choice: segB.ChoiceText, Segment: segB},
		true
}

// AppendSegments adds materialized segments; entries are immutable once
// appended and IDs must stay unique within the session.
func (s *Session) AppendSegments(segs ...Segment) error {
	for _, seg := range segs {
		if _, exists := s.FindSegment(seg.ID); exists {
			return fmt.Errorf("duplicate segment id %q", seg.ID)
		}
		s.Segments = append(s.Segments, seg)
	}
	return nil
}

// IsComplete is true once the story has no further choices to offer.
// Non-interactive stories are complete after their single segment.
func (s *Session) IsComplete() bool {
	return s.CurrentCheckpoint >= s.Config.TotalCheckpoints
}

// Validate is the schema check run on every store read and write. A session
// failing it is treated as store corruption, never silently coerced.
func (s *Session) Validate() error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("session id is empty")
	}
	if s.Config.StoryLengthMinutes <= 0 {
		return fmt.Errorf("config.story_length_minutes must be positive")
	}
	if s.Config.TotalWords <= 0 || s.Config.WordsPerSegment <= 0 {
		return fmt.Errorf("config word budget is not positive")
	}
	if s.Config.TotalCheckpoints < 0 {
		return fmt.Errorf("config.total_checkpoints is negative")
	}
	if !s.GenerationState.Valid() {
		return fmt.Errorf("unknown generation_state %q", s.GenerationState)
	}
	if s.CurrentCheckpoint < 0 || s.CurrentCheckpoint > s.Config.TotalCheckpoints {
		return fmt.Errorf("current_checkpoint %d out of range [0,%d]", s.CurrentCheckpoint, s.Config.TotalCheckpoints)
	}
	if len(s.ChosenPath) != s.CurrentCheckpoint {
		return fmt.Errorf("chosen_path length %d does not match current_checkpoint %d", len(s.ChosenPath), s.CurrentCheckpoint)
	}

	seen := make(map[string]bool, len(s.Segments))
	branchCounts := map[int]int{}
	for i, seg := range s.Segments {
		if strings.TrimSpace(seg.ID) == "" {
			return fmt.Errorf("segment[%d] has empty id", i)
		}
		if seen[seg.ID] {
			return fmt.Errorf("segment id %q appears twice", seg.ID)
		}
		seen[seg.ID] = true
		if strings.TrimSpace(seg.Text) == "" {
			return fmt.Errorf("segment %q has empty text", seg.ID)
		}
		if strings.TrimSpace(seg.AudioKey) == "" {
			return fmt.Errorf("segment %q has no audio reference", seg.ID)
		}
		if seg.Checkpoint < 0 || seg.Checkpoint > s.Config.TotalCheckpoints {
			return fmt.Errorf("segment %q checkpoint %d out of range", seg.ID, seg.Checkpoint)
		}
		if strings.HasSuffix(seg.ID, "a") || strings.HasSuffix(seg.ID, "b") {
			branchCounts[seg.Checkpoint]++
		}
	}
	// Branch segments only ever exist as full pairs.
	for cp, n := range branchCounts {
		if n != 2 {
			return fmt.Errorf("checkpoint %d has %d branch segments, expected exactly 2", cp, n)
		}
	}
	return nil
}
