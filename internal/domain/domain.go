package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quiz is fetched once per attempt and never mutated by the client.
// Duration is zero for untimed quizzes.
type Quiz struct {
	QuizID          string
	Title           string
	Duration        time.Duration
	AttemptsAllowed int
	Questions       []Question
}

// Timed reports whether attempts of the quiz run against a countdown.
func (q Quiz) Timed() bool {
	return q.Duration > 0
}

// Question returns the question with the given id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, qq := range q.Questions {
		if qq.QuestionID == id {
			return qq, true
		}
	}

	return Question{}, false
}

type Question struct {
	QuestionID string
	Text       string
	ImageURL   string
	Choices    []Choice
}

// HasChoice reports whether the choice belongs to the question.
func (q Question) HasChoice(id string) bool {
	for _, c := range q.Choices {
		if c.ChoiceID == id {
			return true
		}
	}

	return false
}

type Choice struct {
	ChoiceID string
	Label    string
	Text     string
}

// Eligibility is the answer of the can-take pre-check.
type Eligibility struct {
	CanTake bool
	Reason  string
}

// AttemptRecord is the server side record allocated when an attempt starts.
type AttemptRecord struct {
	AttemptID string
	QuizID    string
	StartedAt time.Time
}

// Response is one buffered answer.
type Response struct {
	QuestionID string
	ChoiceID   string
}

// ScoredAttempt is what the server returns after grading a submission.
type ScoredAttempt struct {
	AttemptID string
	Score     int
	MaxScore  int
	Answers   []AnswerResult
}

type AnswerResult struct {
	QuestionID string
	Correct    bool
}

// Result is the graded attempt as presented to the result view.
type Result struct {
	AttemptID  string
	QuizID     string
	Username   string
	Score      int
	MaxScore   int
	Percentage decimal.Decimal
	Passed     bool
	Answers    []AnswerResult
	Unanswered []string
	FinishedAt time.Time
}

// Course is a course the user is enrolled in.
type Course struct {
	CourseID string
	Title    string
}

type Lesson struct {
	LessonID string
	Title    string
}

// Progress is the completion summary of a user in a course.
type Progress struct {
	CourseID   string
	Title      string
	Completed  int
	Total      int
	Percentage int
}

// Scoreboard lists the best percentage of each user on a quiz, best first.
type Scoreboard struct {
	QuizID  string
	Entries []ScoreboardEntry
}

type ScoreboardEntry struct {
	Username   string
	Percentage float64
}
