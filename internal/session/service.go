package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/elms/internal/attempt"
	"github.com/victornm/elms/internal/errors"
	"github.com/victornm/elms/internal/event"
	"github.com/victornm/elms/internal/score"
	"github.com/victornm/elms/internal/telemetry"
)

const (
	defaultIdleTTL      = 30 * time.Minute
	defaultReapInterval = time.Minute
)

type Config struct {
	API           attempt.API
	Score         *score.Service
	EventBus      *event.Bus
	IdleTTL       time.Duration
	ReapInterval  time.Duration
	NewTickerFunc func(d time.Duration) attempt.Ticker
	Now           func() time.Time
}

// Service mounts quiz views. Each view owns exactly one attempt controller; unmounting the view
// abandons the attempt and stops its countdown.
type Service struct {
	api          attempt.API
	score        *score.Service
	eb           *event.Bus
	idleTTL      time.Duration
	reapInterval time.Duration
	newTicker    func(d time.Duration) attempt.Ticker
	now          func() time.Time

	mu    sync.Mutex
	views map[string]*view
}

type view struct {
	username string
	ctl      *attempt.Controller
	lastSeen time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		api:          c.API,
		score:        c.Score,
		eb:           c.EventBus,
		idleTTL:      c.IdleTTL,
		reapInterval: c.ReapInterval,
		newTicker:    c.NewTickerFunc,
		now:          c.Now,
		views:        make(map[string]*view),
	}

	if s.idleTTL <= 0 {
		s.idleTTL = defaultIdleTTL
	}
	if s.reapInterval <= 0 {
		s.reapInterval = defaultReapInterval
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// OpenRequest represents a request to mount a quiz view and start an attempt in it.
type OpenRequest struct {
	Username string
	QuizID   string
}

type OpenResponse struct {
	ViewID     string
	Controller *attempt.Controller
}

// Open mounts a view and starts its attempt. Nothing is mounted when the attempt cannot start.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*OpenResponse, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate view ID: %w", err)
	}

	ctl := attempt.NewController(attempt.Config{
		API:           s.api,
		Score:         s.score,
		EventBus:      s.eb,
		Username:      req.Username,
		QuizID:        req.QuizID,
		NewTickerFunc: s.newTicker,
		Now:           s.now,
	})

	if err := ctl.Start(ctx); err != nil {
		ctl.Abandon(ctx)
		return nil, err
	}

	s.mu.Lock()
	s.views[id.String()] = &view{
		username: req.Username,
		ctl:      ctl,
		lastSeen: s.now(),
	}
	s.mu.Unlock()

	telemetry.ViewMounted()

	return &OpenResponse{
		ViewID:     id.String(),
		Controller: ctl,
	}, nil
}

type GetRequest struct {
	Username string
	ViewID   string
}

// Get returns the controller of a mounted view. Views of other users are reported as not found.
func (s *Service) Get(_ context.Context, req GetRequest) (*attempt.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[req.ViewID]
	if !ok || v.username != req.Username {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("view not found: %s", req.ViewID))
	}

	v.lastSeen = s.now()
	return v.ctl, nil
}

type CloseRequest struct {
	Username string
	ViewID   string
}

// Close unmounts a view. An unfinished attempt is abandoned, never submitted.
func (s *Service) Close(ctx context.Context, req CloseRequest) error {
	s.mu.Lock()
	v, ok := s.views[req.ViewID]
	if !ok || v.username != req.Username {
		s.mu.Unlock()
		return errors.New(errors.CodeNotFound, errors.WithMessagef("view not found: %s", req.ViewID))
	}
	delete(s.views, req.ViewID)
	s.mu.Unlock()

	s.unmount(ctx, v)
	return nil
}

// Count returns the number of mounted views.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

// Reap unmounts views nobody touched for longer than the idle TTL and returns how many it removed.
func (s *Service) Reap(ctx context.Context) int {
	deadline := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	var idle []*view
	for id, v := range s.views {
		if v.lastSeen.Before(deadline) {
			idle = append(idle, v)
			delete(s.views, id)
		}
	}
	s.mu.Unlock()

	for _, v := range idle {
		s.unmount(ctx, v)
	}

	if len(idle) > 0 {
		slog.InfoContext(ctx, "session: reaped idle views", "count", len(idle))
	}

	return len(idle)
}

// Run reaps idle views until ctx is done, then unmounts every remaining view.
func (s *Service) Run(ctx context.Context) {
	t := time.NewTicker(s.reapInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll(context.WithoutCancel(ctx))
			return
		case <-t.C:
			s.Reap(ctx)
		}
	}
}

func (s *Service) closeAll(ctx context.Context) {
	s.mu.Lock()
	views := s.views
	s.views = make(map[string]*view)
	s.mu.Unlock()

	for _, v := range views {
		s.unmount(ctx, v)
	}
}

func (s *Service) unmount(ctx context.Context, v *view) {
	v.ctl.Abandon(ctx)
	telemetry.ViewUnmounted()
}
