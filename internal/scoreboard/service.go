package scoreboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/elms/internal/domain"
	"github.com/victornm/elms/internal/errors"
	"github.com/victornm/elms/internal/event"
)

const (
	publishInterval = 500 * time.Millisecond
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Service keeps the best percentage each user reached on a quiz.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string

	pending sync.WaitGroup
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameAttemptFinished, func(ctx context.Context, e event.Event) error {
		return s.RecordResult(ctx, e.(domain.EventAttemptFinished))
	})

	return s
}

type GetScoreboardRequest struct {
	QuizID string
	// Limit caps the number of entries, 0 means all.
	Limit int64
}

// GetScoreboard returns the best percentage of every user who finished the quiz, best first.
func (s *Service) GetScoreboard(ctx context.Context, req GetScoreboardRequest) (*domain.Scoreboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.scoreboardKey(req.QuizID), 0, req.Limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("get scoreboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("scoreboard not found: quiz=%s", req.QuizID))
	}

	entries := make([]domain.ScoreboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.ScoreboardEntry{
			Username:   z.Member.(string),
			Percentage: z.Score,
		})
	}

	return &domain.Scoreboard{
		QuizID:  req.QuizID,
		Entries: entries,
	}, nil
}

// RecordResult keeps the result's percentage when it beats the user's previous best.
func (s *Service) RecordResult(ctx context.Context, e domain.EventAttemptFinished) error {
	r := e.Result

	if err := s.redis.ZAddGT(ctx, s.scoreboardKey(r.QuizID), redis.Z{
		Score:  r.Percentage.InexactFloat64(),
		Member: r.Username,
	}).Err(); err != nil {
		return fmt.Errorf("record result: %w", err)
	}

	return s.schedulePublishScoreboard(ctx, r)
}

// schedulePublishScoreboard publishes at most one scoreboard.updated per quiz per interval, at the
// end of the interval, so every result recorded within it is on the published board.
// Results of a whole class tend to arrive together when a timed quiz runs out.
func (s *Service) schedulePublishScoreboard(ctx context.Context, r domain.Result) error {
	// The key outlives the interval only if the process dies before publishing.
	ok, err := s.redis.SetNX(ctx, s.publishKey(r.QuizID), r.FinishedAt.UnixMilli(), 2*publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	time.AfterFunc(publishInterval, func() {
		defer s.pending.Done()

		if err := s.publishScoreboard(ctx, r.QuizID); err != nil {
			slog.ErrorContext(ctx, "scoreboard: publish failed", "quiz", r.QuizID, "error", err)
		}
	})

	return nil
}

func (s *Service) publishScoreboard(ctx context.Context, quizID string) error {
	// Results that lost the SETNX were added before this DEL, so the read below sees them.
	// Later results open a new interval.
	if err := s.redis.Del(ctx, s.publishKey(quizID)).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}

	b, err := s.GetScoreboard(ctx, GetScoreboardRequest{QuizID: quizID})
	if err != nil {
		return fmt.Errorf("get scoreboard failed: quiz=%s: %w", quizID, err)
	}

	s.eb.Publish(ctx, domain.EventScoreboardUpdated{
		Scoreboard: *b,
	})

	return nil
}

// Stop waits for scheduled publishes. Stop the event bus first so no result is still being recorded.
func (s *Service) Stop() {
	s.pending.Wait()
}

func (s *Service) scoreboardKey(quiz string) string {
	return fmt.Sprintf("%s:%s:scoreboard", s.prefix, quiz)
}

func (s *Service) publishKey(quiz string) string {
	return fmt.Sprintf("%s:%s:published", s.prefix, quiz)
}
