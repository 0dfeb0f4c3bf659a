package progress

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/elms/internal/domain"
	"github.com/victornm/elms/internal/lmsapi"
)

const (
	defaultTTL           = 30 * time.Second
	defaultMaxConcurrent = 8
)

// API is the part of the LMS progress is computed from.
type API interface {
	ListEnrollments(ctx context.Context, req lmsapi.ListEnrollmentsRequest) ([]domain.Course, error)
	ListLessons(ctx context.Context, req lmsapi.ListLessonsRequest) ([]domain.Lesson, error)
	ListCompletions(ctx context.Context, req lmsapi.ListCompletionsRequest) (map[string]bool, error)
}

type Config struct {
	API           API
	Redis         redis.UniversalClient
	Prefix        string
	TTL           time.Duration
	MaxConcurrent int
}

// Service computes course progress for dashboards. Lesson lists and completion flags are cached
// in redis for TTL, so a summary is at most TTL older than the LMS.
type Service struct {
	api           API
	redis         redis.UniversalClient
	prefix        string
	ttl           time.Duration
	maxConcurrent int
}

func NewService(c Config) *Service {
	s := &Service{
		api:           c.API,
		redis:         c.Redis,
		prefix:        c.Prefix,
		ttl:           c.TTL,
		maxConcurrent: c.MaxConcurrent,
	}

	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	if s.maxConcurrent <= 0 {
		s.maxConcurrent = defaultMaxConcurrent
	}

	return s
}

type GetCourseProgressRequest struct {
	Username string
	CourseID string
}

// GetCourseProgress summarizes the user's completions in one course.
func (s *Service) GetCourseProgress(ctx context.Context, req GetCourseProgressRequest) (*domain.Progress, error) {
	return s.courseProgress(ctx, req.Username, domain.Course{CourseID: req.CourseID})
}

type GetDashboardRequest struct {
	Username string
}

// GetDashboard summarizes every course the user is enrolled in, in enrollment order.
func (s *Service) GetDashboard(ctx context.Context, req GetDashboardRequest) ([]domain.Progress, error) {
	courses, err := s.api.ListEnrollments(ctx, lmsapi.ListEnrollmentsRequest{Username: req.Username})
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}

	out := make([]domain.Progress, len(courses))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.maxConcurrent)

	for i, c := range courses {
		eg.Go(func() error {
			p, err := s.courseProgress(ctx, req.Username, c)
			if err != nil {
				return fmt.Errorf("course %s: %w", c.CourseID, err)
			}
			out[i] = *p
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Service) courseProgress(ctx context.Context, user string, c domain.Course) (*domain.Progress, error) {
	lessons, err := cached(ctx, s, s.lessonsKey(c.CourseID), func() ([]string, error) {
		ls, err := s.api.ListLessons(ctx, lmsapi.ListLessonsRequest{Username: user, CourseID: c.CourseID})
		if err != nil {
			return nil, err
		}

		ids := make([]string, 0, len(ls))
		for _, l := range ls {
			ids = append(ids, l.LessonID)
		}
		return ids, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}

	completions, err := cached(ctx, s, s.completionsKey(c.CourseID, user), func() (map[string]bool, error) {
		return s.api.ListCompletions(ctx, lmsapi.ListCompletionsRequest{Username: user, CourseID: c.CourseID})
	})
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}

	sum := Summarize(lessons, completions)
	return &domain.Progress{
		CourseID:   c.CourseID,
		Title:      c.Title,
		Completed:  sum.Completed,
		Total:      sum.Total,
		Percentage: sum.Percentage,
	}, nil
}

type InvalidateRequest struct {
	Username string
	CourseID string
}

// Invalidate drops the cached completions of a user in a course.
func (s *Service) Invalidate(ctx context.Context, req InvalidateRequest) error {
	if err := s.redis.Del(ctx, s.completionsKey(req.CourseID, req.Username)).Err(); err != nil {
		return fmt.Errorf("invalidate completions: %w", err)
	}
	return nil
}

// cached reads key from redis, falling back to load on a miss. Redis failures are logged and
// served from load; the cache never fails a request.
func cached[T any](ctx context.Context, s *Service, key string, load func() (T, error)) (T, error) {
	var v T

	b, err := s.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if err := json.Unmarshal(b, &v); err == nil {
			return v, nil
		}
		slog.WarnContext(ctx, "progress: drop malformed cache entry", "key", key)
	case !stderrors.Is(err, redis.Nil):
		slog.WarnContext(ctx, "progress: read cache failed", "key", key, "error", err)
	}

	v, err = load()
	if err != nil {
		return v, err
	}

	b, err = json.Marshal(v)
	if err != nil {
		return v, nil
	}
	if err := s.redis.Set(ctx, key, b, s.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "progress: write cache failed", "key", key, "error", err)
	}

	return v, nil
}

func (s *Service) lessonsKey(course string) string {
	return fmt.Sprintf("%s:course:%s:lessons", s.prefix, course)
}

func (s *Service) completionsKey(course, user string) string {
	return fmt.Sprintf("%s:course:%s:user:%s:completions", s.prefix, course, user)
}
