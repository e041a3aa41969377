package story

import "fmt"

// WordsPerMinute is the narration pace the word budget is derived from.
const WordsPerMinute = 150

const (
	minStoryLengthMinutes = 1
	maxStoryLengthMinutes = 60
)

// Structure is the derived shape of a story: how many words, checkpoints and
// segments a requested length works out to.
type Structure struct {
	TotalWords       int
	TotalCheckpoints int
	TotalSegments    int
	WordsPerSegment  int
}

// CalculateStructure is pure: same inputs always yield the same outputs.
// Non-interactive stories have no checkpoints and a single segment.
func CalculateStructure(storyLengthMinutes int, interactive bool) (Structure, error) {
	if storyLengthMinutes < minStoryLengthMinutes || storyLengthMinutes > maxStoryLengthMinutes {
		return Structure{}, fmt.Errorf("story length %d minutes out of range [%d,%d]",
			storyLengthMinutes, minStoryLengthMinutes, maxStoryLengthMinutes)
	}

	st := Structure{
		TotalWords: storyLengthMinutes * WordsPerMinute,
	}
	if interactive {
		st.TotalCheckpoints = storyLengthMinutes
	}
	st.TotalSegments = st.TotalCheckpoints + 1
	st.WordsPerSegment = st.TotalWords / st.TotalSegments
	return st, nil
}
