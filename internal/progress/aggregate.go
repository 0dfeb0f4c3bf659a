package progress

import "math"

// Summary is the completion state of a set of lessons.
type Summary struct {
	Completed  int
	Total      int
	Percentage int
}

// Summarize counts the completed lessons among lessonIDs. Completion flags for lessons outside
// lessonIDs are ignored and duplicate ids count once.
func Summarize(lessonIDs []string, completions map[string]bool) Summary {
	seen := make(map[string]struct{}, len(lessonIDs))
	var s Summary
	for _, id := range lessonIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		s.Total++
		if completions[id] {
			s.Completed++
		}
	}

	s.Percentage = Percentage(s.Completed, s.Total)
	return s
}

// Percentage is completed/total*100 rounded to the nearest integer, 0 when total is 0.
func Percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}

	return int(math.Round(float64(completed) / float64(total) * 100))
}
