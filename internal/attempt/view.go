package attempt

import (
	"maps"
	"time"

	"github.com/victornm/elms/internal/domain"
)

// View is a point-in-time copy of the attempt for rendering.
type View struct {
	State     State
	QuizID    string
	Title     string
	AttemptID string
	StartedAt time.Time

	// Set once the attempt has started.
	CurrentIndex   int
	TotalQuestions int
	Current        *domain.Question
	Responses      map[string]string

	// TimeRemaining is in whole seconds and only meaningful when Timed.
	Timed         bool
	TimeRemaining int
	Expired       bool

	// Result is set once the attempt is finished.
	Result *domain.Result
}

// Active reports whether the attempt is running.
func (v View) Active() bool {
	return v.State.Active()
}

// Answered reports which questions have a response, in question order.
func (v View) Answered(q domain.Quiz) []bool {
	out := make([]bool, len(q.Questions))
	for i, qq := range q.Questions {
		_, out[i] = v.Responses[qq.QuestionID]
	}
	return out
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		State:  c.state,
		QuizID: c.quizID,
		Result: c.result,
	}

	if c.quiz == nil || c.record == nil {
		return v
	}

	v.Title = c.quiz.Title
	v.AttemptID = c.record.AttemptID
	v.StartedAt = c.record.StartedAt
	v.CurrentIndex = c.index
	v.TotalQuestions = len(c.quiz.Questions)
	q := c.quiz.Questions[c.index]
	v.Current = &q
	v.Responses = maps.Clone(c.responses)
	v.Timed = c.quiz.Timed()
	v.TimeRemaining = c.remaining
	v.Expired = c.expired

	return v
}

// Quiz returns the quiz of a started attempt.
func (c *Controller) Quiz() (domain.Quiz, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiz == nil {
		return domain.Quiz{}, false
	}
	return *c.quiz, true
}
