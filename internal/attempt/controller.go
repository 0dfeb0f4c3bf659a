// Package attempt runs one quiz attempt for one mounted quiz view: it buffers answers locally,
// drives the countdown and reconciles with the LMS only when the attempt starts and finishes.
package attempt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/victornm/elms/internal/domain"
	"github.com/victornm/elms/internal/errors"
	"github.com/victornm/elms/internal/event"
	"github.com/victornm/elms/internal/lmsapi"
	"github.com/victornm/elms/internal/score"
	"github.com/victornm/elms/internal/telemetry"
)

const timeoutSubmitDeadline = 30 * time.Second

// API is the part of the LMS the attempt depends on.
type API interface {
	GetQuiz(ctx context.Context, req lmsapi.GetQuizRequest) (*domain.Quiz, error)
	CanTake(ctx context.Context, req lmsapi.CanTakeRequest) (*domain.Eligibility, error)
	StartAttempt(ctx context.Context, req lmsapi.StartAttemptRequest) (*domain.AttemptRecord, error)
	SubmitAttempt(ctx context.Context, req lmsapi.SubmitAttemptRequest) (*domain.ScoredAttempt, error)
}

type Config struct {
	API           API
	Score         *score.Service
	EventBus      *event.Bus
	Username      string
	QuizID        string
	NewTickerFunc func(d time.Duration) Ticker
	Now           func() time.Time
}

// Controller owns the state of a single attempt. It is safe for concurrent use; every operation
// and every timer tick is serialised, and LMS calls are made without holding the lock.
type Controller struct {
	api       API
	score     *score.Service
	eb        *event.Bus
	newTicker func(d time.Duration) Ticker
	now       func() time.Time

	username string
	quizID   string

	mu        sync.Mutex
	state     State
	quiz      *domain.Quiz
	record    *domain.AttemptRecord
	index     int
	responses map[string]string
	remaining int
	expired   bool
	result    *domain.Result
	stopTimer context.CancelFunc
}

func NewController(c Config) *Controller {
	ctl := &Controller{
		api:       c.API,
		score:     c.Score,
		eb:        c.EventBus,
		newTicker: c.NewTickerFunc,
		now:       c.Now,
		username:  c.Username,
		quizID:    c.QuizID,
		state:     StateNotStarted,
	}

	if ctl.newTicker == nil {
		ctl.newTicker = newRealTicker
	}
	if ctl.now == nil {
		ctl.now = time.Now
	}

	return ctl
}

// Start fetches the quiz, checks eligibility and asks the LMS for a new attempt. On any failure
// the controller stays NotStarted and Start may be called again.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.moveTo("start", StateStarting); err != nil {
		return err
	}

	quiz, rec, err := c.begin(ctx)
	if err != nil {
		c.mu.Lock()
		if c.state == StateStarting {
			c.state = StateNotStarted
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.state != StateStarting {
		// Unmounted while the LMS was allocating the attempt.
		s := c.state
		c.mu.Unlock()
		return errIllegal("start", s)
	}

	c.quiz = quiz
	c.record = rec
	c.index = 0
	c.responses = make(map[string]string, len(quiz.Questions))
	c.remaining = int(quiz.Duration / time.Second)
	c.expired = false
	c.state = StateActive
	if quiz.Timed() {
		c.startTimerLocked()
	}
	c.mu.Unlock()

	telemetry.AttemptStarted()
	slog.InfoContext(ctx, "attempt: started",
		"user", c.username,
		"quiz", c.quizID,
		"attempt", rec.AttemptID,
	)

	c.publish(ctx, domain.EventAttemptStarted{
		Username: c.username,
		Attempt:  *rec,
	})

	return nil
}

func (c *Controller) begin(ctx context.Context) (*domain.Quiz, *domain.AttemptRecord, error) {
	quiz, err := c.api.GetQuiz(ctx, lmsapi.GetQuizRequest{Username: c.username, QuizID: c.quizID})
	if err != nil {
		return nil, nil, fmt.Errorf("get quiz: %w", err)
	}

	if len(quiz.Questions) == 0 {
		return nil, nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("quiz %s has no questions", c.quizID))
	}

	el, err := c.api.CanTake(ctx, lmsapi.CanTakeRequest{Username: c.username, QuizID: c.quizID})
	if err != nil {
		return nil, nil, fmt.Errorf("can take: %w", err)
	}

	if !el.CanTake {
		reason := el.Reason
		if reason == "" {
			reason = "no attempts left"
		}
		return nil, nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("%s", reason))
	}

	rec, err := c.api.StartAttempt(ctx, lmsapi.StartAttemptRequest{Username: c.username, QuizID: c.quizID})
	if err != nil {
		return nil, nil, fmt.Errorf("start attempt: %w", err)
	}

	return quiz, rec, nil
}

// SelectChoice records the answer to a question, replacing any previous answer to it.
func (c *Controller) SelectChoice(questionID, choiceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return errIllegal("select a choice", c.state)
	}

	if c.expired {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("time is up"))
	}

	q, ok := c.quiz.Question(questionID)
	if !ok {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question %s is not part of quiz %s", questionID, c.quizID))
	}

	if !q.HasChoice(choiceID) {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("choice %s is not an option of question %s", choiceID, questionID))
	}

	c.responses[questionID] = choiceID
	return nil
}

// Next moves to the following question. It does nothing on the last question.
func (c *Controller) Next() error {
	return c.navigate("go to next question", func(i int) int { return i + 1 })
}

// Previous moves to the preceding question. It does nothing on the first question.
func (c *Controller) Previous() error {
	return c.navigate("go to previous question", func(i int) int { return i - 1 })
}

// Jump moves to the question at index, clamped to the valid range.
func (c *Controller) Jump(index int) error {
	return c.navigate("jump to question", func(int) int { return index })
}

func (c *Controller) navigate(op string, move func(int) int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Active() {
		return errIllegal(op, c.state)
	}

	c.index = clamp(move(c.index), 0, len(c.quiz.Questions)-1)
	return nil
}

func clamp(i, lo, hi int) int {
	return max(lo, min(i, hi))
}

// Finish submits every buffered answer for grading. If the LMS cannot be reached the attempt
// stays active and Finish may be retried.
func (c *Controller) Finish(ctx context.Context) (*domain.Result, error) {
	return c.finish(ctx, domain.FinishManual)
}

func (c *Controller) finishOnTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), timeoutSubmitDeadline)
	defer cancel()

	if _, err := c.finish(ctx, domain.FinishTimeout); err != nil {
		slog.ErrorContext(ctx, "attempt: submit on timeout failed",
			"user", c.username,
			"quiz", c.quizID,
			"error", err,
		)
	}
}

func (c *Controller) finish(ctx context.Context, trigger domain.FinishTrigger) (*domain.Result, error) {
	c.mu.Lock()
	if c.state != StateActive {
		s := c.state
		c.mu.Unlock()
		return nil, errIllegal("finish", s)
	}

	c.state = StateSubmitting
	rec := *c.record
	responses := c.responsesLocked()
	c.mu.Unlock()

	scored, err := c.api.SubmitAttempt(ctx, lmsapi.SubmitAttemptRequest{
		Username:  c.username,
		AttemptID: rec.AttemptID,
		Responses: responses,
	})

	c.mu.Lock()
	if c.state != StateSubmitting {
		// Unmounted while grading; nobody is left to show the result to.
		s := c.state
		c.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("submit attempt: %w", err)
		}
		return nil, errIllegal("finish", s)
	}

	if err != nil {
		c.state = StateActive
		c.mu.Unlock()

		telemetry.SubmissionFailed()
		return nil, fmt.Errorf("submit attempt: %w", err)
	}

	res := c.score.Grade(score.GradeRequest{
		Quiz:       c.quiz,
		Username:   c.username,
		Responses:  c.responses,
		Scored:     scored,
		FinishedAt: c.now(),
	})
	c.result = &res
	c.state = StateFinished
	c.stopTimerLocked()
	c.mu.Unlock()

	telemetry.AttemptFinished(string(trigger))
	slog.InfoContext(ctx, "attempt: finished",
		"user", c.username,
		"quiz", c.quizID,
		"attempt", rec.AttemptID,
		"trigger", trigger,
		"score", res.Score,
	)

	c.publish(ctx, domain.EventAttemptFinished{
		Trigger: trigger,
		Result:  res,
	})

	return &res, nil
}

// responsesLocked lists the answers in question order. c.mu must be held.
func (c *Controller) responsesLocked() []domain.Response {
	rs := make([]domain.Response, 0, len(c.responses))
	for _, q := range c.quiz.Questions {
		if choice, ok := c.responses[q.QuestionID]; ok {
			rs = append(rs, domain.Response{QuestionID: q.QuestionID, ChoiceID: choice})
		}
	}
	return rs
}

// Abandon drops the attempt without submitting it. The LMS keeps it unfinished. Abandoning a
// finished or already abandoned attempt does nothing.
func (c *Controller) Abandon(ctx context.Context) {
	c.mu.Lock()
	prev := c.state
	if prev.Terminal() {
		c.mu.Unlock()
		return
	}

	c.state = StateAbandoned
	c.stopTimerLocked()
	c.responses = nil

	var attemptID string
	if c.record != nil {
		attemptID = c.record.AttemptID
	}
	c.mu.Unlock()

	if !prev.Active() {
		return
	}

	telemetry.AttemptAbandoned()
	c.publish(ctx, domain.EventAttemptAbandoned{
		Username:  c.username,
		QuizID:    c.quizID,
		AttemptID: attemptID,
	})
}

func (c *Controller) moveTo(op string, next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.canMoveTo(next) {
		return errIllegal(op, c.state)
	}

	c.state = next
	return nil
}

func (c *Controller) publish(ctx context.Context, e event.Event) {
	if c.eb != nil {
		c.eb.Publish(ctx, e)
	}
}
