package indexer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dshills/lessonrag/internal/chunker"
)

// Option defaults
const (
	DefaultMaxEmbeddingsPerRun = 200
	DefaultConcurrency         = 3
	DefaultRetryAttempts       = 3
)

var (
	// ErrInvalidOptions wraps option validation failures
	ErrInvalidOptions = errors.New("invalid indexing options")
	// ErrInvalidSelector is returned when a selector names zero or several targets
	ErrInvalidSelector = errors.New("selector must name exactly one of lesson, course or recent count")
	// ErrNoEmbedder is returned when a run that embeds has no embedder configured
	ErrNoEmbedder = errors.New("no embedder configured")
	// ErrLessonBusy is recorded when another run in this process holds the lesson
	ErrLessonBusy = errors.New("lesson is being indexed by another run")
)

// Options control one indexing run. Zero numeric fields take their defaults.
type Options struct {
	DryRun               bool `json:"dry_run"`
	Force                bool `json:"force"`
	MaxChars             int  `json:"max_chars" validate:"min=64,max=32000"`
	MaxEmbeddingsPerRun  int  `json:"max_embeddings_per_run" validate:"min=1"`
	Concurrency          int  `json:"concurrency" validate:"min=1,max=5"`
	RetryAttempts        int  `json:"retry_attempts" validate:"min=1,max=10"`
	SkipUnchangedLessons bool `json:"skip_unchanged_lessons"`

	// TokenCounter sizes dry-run projections; nil uses chunker.HeuristicCounter
	TokenCounter chunker.TokenCounter `json:"-" validate:"-"`
}

// DefaultOptions returns the options used when a caller sets nothing
func DefaultOptions() Options {
	return Options{
		MaxChars:            chunker.DefaultMaxChars,
		MaxEmbeddingsPerRun: DefaultMaxEmbeddingsPerRun,
		Concurrency:         DefaultConcurrency,
		RetryAttempts:       DefaultRetryAttempts,
	}
}

var validate = validator.New()

// normalized fills zero values and validates the result
func (o Options) normalized() (Options, error) {
	d := DefaultOptions()
	if o.MaxChars == 0 {
		o.MaxChars = d.MaxChars
	}
	if o.MaxEmbeddingsPerRun == 0 {
		o.MaxEmbeddingsPerRun = d.MaxEmbeddingsPerRun
	}
	if o.Concurrency == 0 {
		o.Concurrency = d.Concurrency
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = d.RetryAttempts
	}
	if o.TokenCounter == nil {
		o.TokenCounter = chunker.HeuristicCounter{}
	}

	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return o, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed on '%s=%s'", e.Field(), e.Tag(), e.Param()))
		}
		sort.Strings(msgs)
		return o, fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(msgs, "; "))
	}
	return o, nil
}

// Selector picks the candidate lessons of a run. Exactly one field is set.
type Selector struct {
	LessonID string `json:"lesson_id,omitempty"`
	CourseID string `json:"course_id,omitempty"`
	Recent   int    `json:"recent,omitempty"`
}

// ByLesson selects a single lesson
func ByLesson(id string) Selector { return Selector{LessonID: id} }

// ByCourse selects every lesson of a course
func ByCourse(id string) Selector { return Selector{CourseID: id} }

// MostRecent selects the n most recently updated lessons
func MostRecent(n int) Selector { return Selector{Recent: n} }

// Validate checks that exactly one target is named
func (s Selector) Validate() error {
	set := 0
	if s.LessonID != "" {
		set++
	}
	if s.CourseID != "" {
		set++
	}
	if s.Recent != 0 {
		if s.Recent < 0 {
			return fmt.Errorf("%w: recent count must be positive", ErrInvalidSelector)
		}
		set++
	}
	if set != 1 {
		return ErrInvalidSelector
	}
	return nil
}

func (s Selector) String() string {
	switch {
	case s.LessonID != "":
		return "lesson:" + s.LessonID
	case s.CourseID != "":
		return "course:" + s.CourseID
	default:
		return fmt.Sprintf("recent:%d", s.Recent)
	}
}
