package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/elms/internal/api"
	"github.com/victornm/elms/internal/event"
	"github.com/victornm/elms/internal/lmsapi"
	"github.com/victornm/elms/internal/progress"
	"github.com/victornm/elms/internal/score"
	"github.com/victornm/elms/internal/scoreboard"
	"github.com/victornm/elms/internal/session"
	"github.com/victornm/elms/internal/telemetry"
)

type RedisConfig struct {
	Addrs  []string `validate:"required,min=1"`
	Pass   string
	Prefix string
}

type Config struct {
	HTTP struct {
		Port int32 `validate:"gt=0"`
	}

	LMS struct {
		BaseURL       string `validate:"required,url"`
		Timeout       time.Duration
		RatePerSecond float64 `validate:"gte=0"`
		Burst         int     `validate:"gte=0"`
	}

	Redis struct {
		Cache  RedisConfig
		Pubsub RedisConfig
	}

	Cache struct {
		TTL time.Duration
	}

	Views struct {
		IdleTTL      time.Duration
		ReapInterval time.Duration
	}

	Score struct {
		PassPercentage float64 `validate:"gte=0,lte=100"`
	}

	Dashboard struct {
		MaxConcurrent int `validate:"gte=0"`
	}
}

// DefaultConfig holds the values used when neither the config file nor the environment set them.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.LMS.Timeout = 10 * time.Second
	c.LMS.RatePerSecond = 50
	c.LMS.Burst = 20
	c.Redis.Cache.Prefix = "elms:cache"
	c.Redis.Pubsub.Prefix = "elms:pubsub"
	c.Cache.TTL = 30 * time.Second
	c.Views.IdleTTL = 30 * time.Minute
	c.Views.ReapInterval = time.Minute
	c.Score.PassPercentage = 50
	c.Dashboard.MaxConcurrent = 8
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		lms   *lmsapi.Client
		redis struct {
			cache  redis.UniversalClient
			pubsub redis.UniversalClient
		}
	}

	service struct {
		score      *score.Service
		session    *session.Service
		progress   *progress.Service
		scoreboard *scoreboard.Service
	}

	http      *http.Server
	stopViews context.CancelFunc
	viewsDone chan struct{}
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus(event.WithErrorFunc(func(_ context.Context, e event.Event, _ error) {
		telemetry.EventHandlerFailed(e.Name())
	}))

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	lms, err := lmsapi.NewClient(lmsapi.Config{
		BaseURL:       s.c.LMS.BaseURL,
		Timeout:       s.c.LMS.Timeout,
		RatePerSecond: s.c.LMS.RatePerSecond,
		Burst:         s.c.LMS.Burst,
	})
	if err != nil {
		return fmt.Errorf("lms: %w", err)
	}
	s.infra.lms = lms

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, rc RedisConfig) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    rc.Addrs,
			Password: rc.Pass,
		})

		if err := telemetry.MonitorRedis(name, r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.cache, err = connect("cache", s.c.Redis.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.service.score = score.NewService(score.Config{
		PassPercentage: s.c.Score.PassPercentage,
	})

	s.service.session = session.NewService(session.Config{
		API:          s.infra.lms,
		Score:        s.service.score,
		EventBus:     s.eb,
		IdleTTL:      s.c.Views.IdleTTL,
		ReapInterval: s.c.Views.ReapInterval,
	})

	s.service.progress = progress.NewService(progress.Config{
		API:           s.infra.lms,
		Redis:         s.infra.redis.cache,
		Prefix:        s.c.Redis.Cache.Prefix,
		TTL:           s.c.Cache.TTL,
		MaxConcurrent: s.c.Dashboard.MaxConcurrent,
	})

	s.service.scoreboard = scoreboard.NewService(scoreboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.cache,
		Prefix:   s.c.Redis.Cache.Prefix,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", s.health)
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.HTTPLogger())

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Eligibility:  s.infra.lms,
		Session:      s.service.session,
		Progress:     s.service.progress,
		Scoreboard:   s.service.scoreboard,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for name, r := range map[string]redis.UniversalClient{
		"cache":  s.infra.redis.cache,
		"pubsub": s.infra.redis.pubsub,
	} {
		if err := r.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "redis": name})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "views": s.service.session.Count()})
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopViews = cancel
	s.viewsDone = make(chan struct{})

	var eg errgroup.Group
	eg.Go(func() error {
		defer close(s.viewsDone)
		s.service.session.Run(ctx)
		return nil
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
			return err
		}
		return nil
	})

	err := eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Unmount every view so no countdown outlives the process.
	if s.stopViews != nil {
		s.stopViews()
		<-s.viewsDone
	}

	// Recorded results may still schedule a scoreboard publish, which in turn dispatches handlers.
	s.eb.Stop()
	s.service.scoreboard.Stop()
	s.eb.Stop()

	for _, r := range []redis.UniversalClient{s.infra.redis.cache, s.infra.redis.pubsub} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
