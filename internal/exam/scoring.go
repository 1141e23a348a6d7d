package exam

import (
	"math"
	"time"
)

// AnswerCorrect reports whether the selected option set exactly matches the
// correct option set. Superset and subset picks both fail; there is no
// partial credit.
func AnswerCorrect(correctIDs, selectedIDs []int64) bool {
	if len(selectedIDs) == 0 || len(correctIDs) == 0 {
		return false
	}

	correct := make(map[int64]struct{}, len(correctIDs))
	for _, id := range correctIDs {
		correct[id] = struct{}{}
	}
	selected := make(map[int64]struct{}, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = struct{}{}
	}

	if len(selected) != len(correct) {
		return false
	}
	for id := range selected {
		if _, ok := correct[id]; !ok {
			return false
		}
	}
	return true
}

// Percentage converts an earned score into a percentage of the maximum,
// rounded to two decimals. A zero maximum yields zero.
func Percentage(score, maxScore int) float64 {
	if maxScore <= 0 {
		return 0
	}
	raw := float64(score) / float64(maxScore) * 100
	return math.Round(raw*100) / 100
}

// AttemptJoinable reports whether an attempt may start at now. The start
// boundary is inclusive, the end boundary exclusive; a nil end means the
// exam stays open indefinitely.
func AttemptJoinable(now, startTime time.Time, endTime *time.Time) bool {
	if now.Before(startTime) {
		return false
	}
	if endTime != nil && !now.Before(*endTime) {
		return false
	}
	return true
}

// SubmissionDeadline is the wall-clock instant after which a submission is
// rejected: started_at plus the exam duration, clamped to the exam's end
// time when one is set.
func SubmissionDeadline(startedAt time.Time, durationMinutes int, endTime *time.Time) time.Time {
	deadline := startedAt.Add(time.Duration(durationMinutes) * time.Minute)
	if endTime != nil && endTime.Before(deadline) {
		deadline = *endTime
	}
	return deadline
}
