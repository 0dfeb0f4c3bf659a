package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/elms/internal/attempt"
	"github.com/victornm/elms/internal/domain"
	"github.com/victornm/elms/internal/errors"
	"github.com/victornm/elms/internal/lmsapi"
	"github.com/victornm/elms/internal/score"
	"github.com/victornm/elms/internal/session"
)

func TestService_OpenGetClose(t *testing.T) {
	s, _ := makeService(t, &stubAPI{canTake: true})
	ctx := context.Background()

	resp, err := s.Open(ctx, session.OpenRequest{Username: "u1", QuizID: "q1"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.ViewID)
	require.Equal(t, attempt.StateActive, resp.Controller.View().State)
	require.Equal(t, 1, s.Count())

	ctl, err := s.Get(ctx, session.GetRequest{Username: "u1", ViewID: resp.ViewID})
	require.NoError(t, err)
	require.Same(t, resp.Controller, ctl)
	require.NoError(t, ctl.SelectChoice("x1", "a"))

	_, err = s.Get(ctx, session.GetRequest{Username: "u2", ViewID: resp.ViewID})
	require.True(t, errors.Is(err, errors.CodeNotFound), "views are private to their user")

	require.NoError(t, s.Close(ctx, session.CloseRequest{Username: "u1", ViewID: resp.ViewID}))
	require.Equal(t, attempt.StateAbandoned, ctl.View().State)
	require.Zero(t, s.Count())

	err = s.Close(ctx, session.CloseRequest{Username: "u1", ViewID: resp.ViewID})
	require.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestService_OpenRejected(t *testing.T) {
	s, _ := makeService(t, &stubAPI{canTake: false})

	_, err := s.Open(context.Background(), session.OpenRequest{Username: "u1", QuizID: "q1"})
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition))
	require.Zero(t, s.Count())
}

func TestService_Reap(t *testing.T) {
	s, clock := makeService(t, &stubAPI{canTake: true})
	ctx := context.Background()

	old, err := s.Open(ctx, session.OpenRequest{Username: "u1", QuizID: "q1"})
	require.NoError(t, err)
	oldCtl, err := s.Get(ctx, session.GetRequest{Username: "u1", ViewID: old.ViewID})
	require.NoError(t, err)

	clock.advance(20 * time.Minute)
	fresh, err := s.Open(ctx, session.OpenRequest{Username: "u2", QuizID: "q1"})
	require.NoError(t, err)

	clock.advance(15 * time.Minute)
	require.Equal(t, 1, s.Reap(ctx))

	_, err = s.Get(ctx, session.GetRequest{Username: "u1", ViewID: old.ViewID})
	require.True(t, errors.Is(err, errors.CodeNotFound))
	require.Equal(t, attempt.StateAbandoned, oldCtl.View().State)

	_, err = s.Get(ctx, session.GetRequest{Username: "u2", ViewID: fresh.ViewID})
	require.NoError(t, err)
}

func TestService_RunClosesEverythingOnShutdown(t *testing.T) {
	s, _ := makeService(t, &stubAPI{canTake: true})

	resp, err := s.Open(context.Background(), session.OpenRequest{Username: "u1", QuizID: "q1"})
	require.NoError(t, err)
	ctl, err := s.Get(context.Background(), session.GetRequest{Username: "u1", ViewID: resp.ViewID})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	require.Zero(t, s.Count())
	require.Equal(t, attempt.StateAbandoned, ctl.View().State)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func makeService(t *testing.T, api attempt.API) (*session.Service, *clock) {
	c := &clock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}

	s := session.NewService(session.Config{
		API:     api,
		Score:   score.NewService(score.Config{}),
		IdleTTL: 30 * time.Minute,
		Now:     c.Now,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s.Run(ctx)
	})

	return s, c
}

type stubAPI struct {
	canTake bool
}

func (*stubAPI) GetQuiz(_ context.Context, req lmsapi.GetQuizRequest) (*domain.Quiz, error) {
	return &domain.Quiz{
		QuizID: req.QuizID,
		Questions: []domain.Question{
			{QuestionID: "x1", Choices: []domain.Choice{{ChoiceID: "a"}, {ChoiceID: "b"}}},
		},
	}, nil
}

func (s *stubAPI) CanTake(context.Context, lmsapi.CanTakeRequest) (*domain.Eligibility, error) {
	return &domain.Eligibility{CanTake: s.canTake}, nil
}

func (*stubAPI) StartAttempt(_ context.Context, req lmsapi.StartAttemptRequest) (*domain.AttemptRecord, error) {
	return &domain.AttemptRecord{AttemptID: "a-" + req.Username, QuizID: req.QuizID}, nil
}

func (*stubAPI) SubmitAttempt(_ context.Context, req lmsapi.SubmitAttemptRequest) (*domain.ScoredAttempt, error) {
	return &domain.ScoredAttempt{AttemptID: req.AttemptID, Score: 1, MaxScore: 1}, nil
}
