package types

import (
	"fmt"
	"time"
)

// StopReason explains why a run ended before covering every candidate
type StopReason string

const (
	StopNone            StopReason = ""
	StopBudgetExhausted StopReason = "budget exhausted"
)

// NoChunk marks a LessonError that is not tied to a single chunk
const NoChunk = -1

// LessonError records a failure attributed to one lesson
type LessonError struct {
	LessonID   string `json:"lesson_id"`
	ChunkIndex int    `json:"chunk_index"`
	Message    string `json:"error"`
}

func (e LessonError) String() string {
	if e.ChunkIndex == NoChunk {
		return fmt.Sprintf("lesson %s: %s", e.LessonID, e.Message)
	}
	return fmt.Sprintf("lesson %s chunk %d: %s", e.LessonID, e.ChunkIndex, e.Message)
}

// LessonResult holds the counts for one lesson pass. Deferred counts changed
// chunks left for a later run because the budget ran out; ProjectedTokens is
// only set on dry runs.
type LessonResult struct {
	LessonID        string        `json:"lesson_id"`
	Total           int           `json:"total"`
	Embedded        int           `json:"embedded"`
	Skipped         int           `json:"skipped"`
	Deleted         int           `json:"deleted"`
	Failed          int           `json:"failed"`
	Deferred        int           `json:"deferred"`
	ProjectedTokens int           `json:"projected_tokens,omitempty"`
	StoppedReason   StopReason    `json:"stopped_reason,omitempty"`
	Errors          []LessonError `json:"errors,omitempty"`
}

// RunResult aggregates lesson results for one orchestrator run
type RunResult struct {
	RunID            string         `json:"run_id"`
	DryRun           bool           `json:"dry_run"`
	LessonsSelected  int            `json:"lessons_selected"`
	LessonsProcessed int            `json:"lessons_processed"`
	LessonsUnchanged int            `json:"lessons_unchanged"`
	Total            int            `json:"total"`
	Embedded         int            `json:"embedded"`
	Skipped          int            `json:"skipped"`
	Deleted          int            `json:"deleted"`
	Failed           int            `json:"failed"`
	Deferred         int            `json:"deferred"`
	ProjectedTokens  int            `json:"projected_tokens,omitempty"`
	StoppedReason    StopReason     `json:"stopped_reason,omitempty"`
	Errors           []LessonError  `json:"errors"`
	Lessons          []LessonResult `json:"lessons"`
	Duration         time.Duration  `json:"duration"`
}

// Add folds a lesson result into the run totals
func (r *RunResult) Add(lr LessonResult) {
	r.LessonsProcessed++
	r.Total += lr.Total
	r.Embedded += lr.Embedded
	r.Skipped += lr.Skipped
	r.Deleted += lr.Deleted
	r.Failed += lr.Failed
	r.Deferred += lr.Deferred
	r.ProjectedTokens += lr.ProjectedTokens
	r.Errors = append(r.Errors, lr.Errors...)
	if lr.StoppedReason != StopNone {
		r.StoppedReason = lr.StoppedReason
	}
	r.Lessons = append(r.Lessons, lr)
}

// PartiallySucceeded reports whether the run recorded any errors
func (r *RunResult) PartiallySucceeded() bool {
	return len(r.Errors) > 0
}

// RetrievedChunk is one nearest-neighbor hit; lower Distance is closer
type RetrievedChunk struct {
	LessonID   string  `json:"lesson_id"`
	CourseID   string  `json:"course_id"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Distance   float64 `json:"distance"`
}
