package attempt_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/elms/internal/attempt"
	"github.com/victornm/elms/internal/domain"
	"github.com/victornm/elms/internal/errors"
	"github.com/victornm/elms/internal/event"
	"github.com/victornm/elms/internal/lmsapi"
	"github.com/victornm/elms/internal/score"
)

const waitFor = 2 * time.Second

func TestController_UntimedScenario(t *testing.T) {
	api := newFakeAPI(makeQuiz(3, 0))
	c, _ := makeController(t, api)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.SelectChoice("x1", "x1-a"))
	require.NoError(t, c.Jump(2))
	require.NoError(t, c.SelectChoice("x3", "x3-b"))
	require.NoError(t, c.Previous())
	require.Equal(t, 1, c.View().CurrentIndex)

	res, err := c.Finish(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"x2"}, res.Unanswered)

	submitted := api.submitted()
	require.Len(t, submitted, 1)
	require.Equal(t, []domain.Response{
		{QuestionID: "x1", ChoiceID: "x1-a"},
		{QuestionID: "x3", ChoiceID: "x3-b"},
	}, submitted[0])

	v := c.View()
	require.Equal(t, attempt.StateFinished, v.State)
	require.False(t, v.Active())
	require.Equal(t, res, v.Result)
}

func TestController_SelectChoiceOverwrites(t *testing.T) {
	c, _ := makeController(t, newFakeAPI(makeQuiz(2, 0)))
	require.NoError(t, c.Start(context.Background()))

	for _, choice := range []string{"x1-a", "x1-b", "x1-b", "x1-c"} {
		require.NoError(t, c.SelectChoice("x1", choice))
	}

	require.Equal(t, map[string]string{"x1": "x1-c"}, c.View().Responses)
}

func TestController_SelectChoiceRejectsForeignIDs(t *testing.T) {
	c, _ := makeController(t, newFakeAPI(makeQuiz(2, 0)))
	require.NoError(t, c.Start(context.Background()))

	err := c.SelectChoice("x9", "x9-a")
	require.True(t, errors.Is(err, errors.CodeInvalidArgument))

	err = c.SelectChoice("x1", "x2-a")
	require.True(t, errors.Is(err, errors.CodeInvalidArgument))

	require.Empty(t, c.View().Responses)
}

func TestController_NavigationStaysInBounds(t *testing.T) {
	tests := map[string]struct {
		moves []func(c *attempt.Controller) error
		want  int
	}{
		"previous on the first question is a no-op": {
			moves: []func(c *attempt.Controller) error{prev, prev},
			want:  0,
		},
		"next past the last question is a no-op": {
			moves: []func(c *attempt.Controller) error{next, next, next, next, next},
			want:  3,
		},
		"jump past the end clamps to the last question": {
			moves: []func(c *attempt.Controller) error{jump(42)},
			want:  3,
		},
		"jump before the start clamps to the first question": {
			moves: []func(c *attempt.Controller) error{next, jump(-7)},
			want:  0,
		},
		"mixed moves": {
			moves: []func(c *attempt.Controller) error{jump(2), next, next, prev, jump(1), prev, prev},
			want:  0,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c, _ := makeController(t, newFakeAPI(makeQuiz(4, 0)))
			require.NoError(t, c.Start(context.Background()))

			for _, m := range tt.moves {
				require.NoError(t, m(c))
				v := c.View()
				require.GreaterOrEqual(t, v.CurrentIndex, 0)
				require.Less(t, v.CurrentIndex, v.TotalQuestions)
				require.Equal(t, v.CurrentIndex, indexOf(v.Current.QuestionID))
			}

			require.Equal(t, tt.want, c.View().CurrentIndex)
		})
	}
}

func TestController_StartRejected(t *testing.T) {
	tests := map[string]struct {
		arrange func(api *fakeAPI)
		code    errors.Code
	}{
		"attempts exhausted": {
			arrange: func(api *fakeAPI) {
				api.eligibility = domain.Eligibility{CanTake: false, Reason: "no attempts left"}
			},
			code: errors.CodeFailedPrecondition,
		},
		"lms refuses to allocate an attempt": {
			arrange: func(api *fakeAPI) {
				api.startErr = errors.New(errors.CodeFailedPrecondition)
			},
			code: errors.CodeFailedPrecondition,
		},
		"quiz not found": {
			arrange: func(api *fakeAPI) {
				api.quizErr = errors.New(errors.CodeNotFound)
			},
			code: errors.CodeNotFound,
		},
		"lms unreachable": {
			arrange: func(api *fakeAPI) {
				api.startErr = errors.New(errors.CodeUnavailable)
			},
			code: errors.CodeUnavailable,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			api := newFakeAPI(makeQuiz(3, 5*time.Second))
			tt.arrange(api)
			c, ticker := makeController(t, api)

			err := c.Start(context.Background())
			require.True(t, errors.Is(err, tt.code), "got %v", err)

			v := c.View()
			require.Equal(t, attempt.StateNotStarted, v.State)
			require.False(t, v.Active())
			require.Nil(t, v.Current)
			require.False(t, ticker.started(), "no countdown for an attempt that never started")
			require.Error(t, c.Next())
		})
	}
}

func TestController_StartTwice(t *testing.T) {
	c, _ := makeController(t, newFakeAPI(makeQuiz(1, 0)))
	require.NoError(t, c.Start(context.Background()))

	err := c.Start(context.Background())
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition))
}

func TestController_CountdownAutoFinish(t *testing.T) {
	api := newFakeAPI(makeQuiz(3, 5*time.Second))
	c, ticker := makeController(t, api)
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, 5, c.View().TimeRemaining)

	for want := 4; want >= 1; want-- {
		ticker.tick(t)
		require.Eventually(t, func() bool { return c.View().TimeRemaining == want }, waitFor, time.Millisecond)
		require.Equal(t, attempt.StateActive, c.View().State)
	}

	ticker.tick(t)
	require.Eventually(t, func() bool { return c.View().State == attempt.StateFinished }, waitFor, time.Millisecond)

	v := c.View()
	require.Equal(t, 0, v.TimeRemaining)
	require.True(t, v.Expired)

	submitted := api.submitted()
	require.Len(t, submitted, 1)
	require.Empty(t, submitted[0])

	require.False(t, ticker.accepts(), "the countdown should be gone once finished")
	require.Eventually(t, ticker.stopped, waitFor, time.Millisecond)
}

func TestController_UntimedHasNoCountdown(t *testing.T) {
	c, ticker := makeController(t, newFakeAPI(makeQuiz(2, 0)))
	require.NoError(t, c.Start(context.Background()))

	v := c.View()
	require.False(t, v.Timed)
	require.False(t, ticker.started())
}

func TestController_ManualFinishStopsCountdown(t *testing.T) {
	api := newFakeAPI(makeQuiz(2, 10*time.Second))
	c, ticker := makeController(t, api)
	require.NoError(t, c.Start(context.Background()))

	ticker.tick(t)
	require.Eventually(t, func() bool { return c.View().TimeRemaining == 9 }, waitFor, time.Millisecond)

	_, err := c.Finish(context.Background())
	require.NoError(t, err)

	require.Eventually(t, ticker.stopped, waitFor, time.Millisecond)
	require.False(t, ticker.accepts())
	require.Equal(t, 9, c.View().TimeRemaining)
}

func TestController_TimeoutDuringManualFinish(t *testing.T) {
	api := newFakeAPI(makeQuiz(2, 1*time.Second))
	api.hold = make(chan struct{})
	c, ticker := makeController(t, api)
	require.NoError(t, c.Start(context.Background()))

	var (
		wg  sync.WaitGroup
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err = c.Finish(context.Background())
	}()
	require.Eventually(t, func() bool { return c.View().State == attempt.StateSubmitting }, waitFor, time.Millisecond)

	// Time runs out while the manual submission is in flight.
	ticker.tick(t)
	require.Eventually(t, func() bool { return c.View().Expired }, waitFor, time.Millisecond)

	close(api.hold)
	wg.Wait()

	require.NoError(t, err)
	require.Equal(t, attempt.StateFinished, c.View().State)
	require.Equal(t, 1, api.submitCalls())
}

func TestController_ManualFinishDuringTimeoutSubmit(t *testing.T) {
	api := newFakeAPI(makeQuiz(2, 1*time.Second))
	api.hold = make(chan struct{})
	c, ticker := makeController(t, api)
	require.NoError(t, c.Start(context.Background()))

	ticker.tick(t)
	require.Eventually(t, func() bool { return c.View().State == attempt.StateSubmitting }, waitFor, time.Millisecond)

	_, err := c.Finish(context.Background())
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition))

	close(api.hold)
	require.Eventually(t, func() bool { return c.View().State == attempt.StateFinished }, waitFor, time.Millisecond)
	require.Equal(t, 1, api.submitCalls())
}

func TestController_ConcurrentFinish(t *testing.T) {
	api := newFakeAPI(makeQuiz(3, 0))
	c, _ := makeController(t, api)
	require.NoError(t, c.Start(context.Background()))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Finish(context.Background()); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, 1, api.submitCalls())
}

func TestController_FinishFailureKeepsAttempt(t *testing.T) {
	api := newFakeAPI(makeQuiz(2, 0))
	api.submitErr = errors.New(errors.CodeUnavailable)
	c, _ := makeController(t, api)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.SelectChoice("x2", "x2-c"))

	_, err := c.Finish(context.Background())
	require.True(t, errors.IsRetryable(err))

	v := c.View()
	require.Equal(t, attempt.StateActive, v.State)
	require.Equal(t, map[string]string{"x2": "x2-c"}, v.Responses)

	api.setSubmitErr(nil)
	res, err := c.Finish(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, 2, api.submitCalls())
	require.Equal(t, []domain.Response{{QuestionID: "x2", ChoiceID: "x2-c"}}, api.submitted()[1])
}

func TestController_ExpiredAttemptRejectsAnswers(t *testing.T) {
	api := newFakeAPI(makeQuiz(2, 1*time.Second))
	api.submitErr = errors.New(errors.CodeUnavailable)
	c, ticker := makeController(t, api)
	require.NoError(t, c.Start(context.Background()))

	ticker.tick(t)
	require.Eventually(t, func() bool { return api.submitCalls() == 1 }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return c.View().State == attempt.StateActive }, waitFor, time.Millisecond)

	require.True(t, c.View().Expired)
	require.Error(t, c.SelectChoice("x1", "x1-a"))

	api.setSubmitErr(nil)
	_, err := c.Finish(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, api.submitCalls())
}

func TestController_Abandon(t *testing.T) {
	eb := event.NewBus()
	var (
		mu     sync.Mutex
		events []event.Event
	)
	eb.Subscribe(domain.EventNameAttemptAbandoned, func(_ context.Context, e event.Event) error {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		return nil
	})

	api := newFakeAPI(makeQuiz(2, 30*time.Second))
	c, ticker := makeController(t, api, withEventBus(eb))
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.SelectChoice("x1", "x1-a"))

	c.Abandon(context.Background())
	c.Abandon(context.Background())
	eb.Stop()

	require.Eventually(t, ticker.stopped, waitFor, time.Millisecond)
	require.False(t, ticker.accepts())

	v := c.View()
	require.Equal(t, attempt.StateAbandoned, v.State)
	require.Empty(t, v.Responses)
	require.Zero(t, api.submitCalls())

	_, err := c.Finish(context.Background())
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition))
	require.Error(t, c.SelectChoice("x1", "x1-b"))

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventAttemptAbandoned{Username: "u1", QuizID: "q1", AttemptID: "a1"}, events[0])
}

func TestController_PublishesFinished(t *testing.T) {
	eb := event.NewBus()
	got := make(chan domain.EventAttemptFinished, 1)
	eb.Subscribe(domain.EventNameAttemptFinished, func(_ context.Context, e event.Event) error {
		got <- e.(domain.EventAttemptFinished)
		return nil
	})

	c, _ := makeController(t, newFakeAPI(makeQuiz(1, 0)), withEventBus(eb))
	require.NoError(t, c.Start(context.Background()))
	_, err := c.Finish(context.Background())
	require.NoError(t, err)
	eb.Stop()

	e := <-got
	require.Equal(t, domain.FinishManual, e.Trigger)
	require.Equal(t, "u1", e.Result.Username)
	require.Equal(t, "a1", e.Result.AttemptID)
}

func next(c *attempt.Controller) error { return c.Next() }

func prev(c *attempt.Controller) error { return c.Previous() }

func jump(i int) func(c *attempt.Controller) error {
	return func(c *attempt.Controller) error { return c.Jump(i) }
}

type options func(c *attempt.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *attempt.Config) {
		c.EventBus = eb
	}
}

func makeController(t *testing.T, api *fakeAPI, opts ...options) (*attempt.Controller, *fakeTicker) {
	ft := &fakeTicker{c: make(chan time.Time)}

	c := attempt.Config{
		API:      api,
		Score:    score.NewService(score.Config{PassPercentage: 50}),
		Username: "u1",
		QuizID:   "q1",
		NewTickerFunc: func(d time.Duration) attempt.Ticker {
			require.Equal(t, time.Second, d)
			ft.start()
			return ft
		},
	}

	for _, opt := range opts {
		opt(&c)
	}

	ctl := attempt.NewController(c)
	t.Cleanup(func() { ctl.Abandon(context.Background()) })
	return ctl, ft
}

var questionIDs = []string{"x1", "x2", "x3", "x4", "x5"}

func indexOf(id string) int {
	for i, q := range questionIDs {
		if q == id {
			return i
		}
	}
	return -1
}

func makeQuiz(n int, d time.Duration) domain.Quiz {
	q := domain.Quiz{QuizID: "q1", Title: "Quiz", Duration: d, AttemptsAllowed: 1}
	for _, id := range questionIDs[:n] {
		q.Questions = append(q.Questions, domain.Question{
			QuestionID: id,
			Text:       "question " + id,
			Choices: []domain.Choice{
				{ChoiceID: id + "-a", Label: "A"},
				{ChoiceID: id + "-b", Label: "B"},
				{ChoiceID: id + "-c", Label: "C"},
			},
		})
	}
	return q
}

type fakeAPI struct {
	quiz        domain.Quiz
	quizErr     error
	eligibility domain.Eligibility
	startErr    error
	hold        chan struct{}

	mu        sync.Mutex
	submitErr error
	calls     [][]domain.Response
}

func newFakeAPI(q domain.Quiz) *fakeAPI {
	return &fakeAPI{
		quiz:        q,
		eligibility: domain.Eligibility{CanTake: true},
	}
}

func (f *fakeAPI) GetQuiz(context.Context, lmsapi.GetQuizRequest) (*domain.Quiz, error) {
	if f.quizErr != nil {
		return nil, f.quizErr
	}
	q := f.quiz
	return &q, nil
}

func (f *fakeAPI) CanTake(context.Context, lmsapi.CanTakeRequest) (*domain.Eligibility, error) {
	e := f.eligibility
	return &e, nil
}

func (f *fakeAPI) StartAttempt(_ context.Context, req lmsapi.StartAttemptRequest) (*domain.AttemptRecord, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &domain.AttemptRecord{AttemptID: "a1", QuizID: req.QuizID, StartedAt: time.Now()}, nil
}

func (f *fakeAPI) SubmitAttempt(_ context.Context, req lmsapi.SubmitAttemptRequest) (*domain.ScoredAttempt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Responses)
	err := f.submitErr
	f.mu.Unlock()

	if f.hold != nil {
		<-f.hold
	}

	if err != nil {
		return nil, err
	}

	return &domain.ScoredAttempt{
		AttemptID: req.AttemptID,
		Score:     len(req.Responses),
		MaxScore:  len(f.quiz.Questions),
	}, nil
}

func (f *fakeAPI) setSubmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

func (f *fakeAPI) submitted() [][]domain.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]domain.Response(nil), f.calls...)
}

func (f *fakeAPI) submitCalls() int {
	return len(f.submitted())
}

// fakeTicker delivers a tick only when the test asks for one.
type fakeTicker struct {
	c chan time.Time

	mu        sync.Mutex
	isStarted bool
	isStopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isStopped = true
}

func (f *fakeTicker) start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isStarted = true
}

func (f *fakeTicker) started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isStarted
}

func (f *fakeTicker) stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isStopped
}

func (f *fakeTicker) tick(t *testing.T) {
	select {
	case f.c <- time.Now():
	case <-time.After(waitFor):
		t.Fatal("countdown is not listening")
	}
}

// accepts reports whether anything still reads ticks.
func (f *fakeTicker) accepts() bool {
	select {
	case f.c <- time.Now():
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}
