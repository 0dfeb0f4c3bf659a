package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/elms/internal/domain"
	"github.com/victornm/elms/internal/errors"
	"github.com/victornm/elms/internal/event"
	"github.com/victornm/elms/internal/lmsapi"
	"github.com/victornm/elms/internal/progress"
	"github.com/victornm/elms/internal/scoreboard"
	"github.com/victornm/elms/internal/session"
)

const ctxKeyUser = "elms.user"

// Eligibility answers whether a user may start a quiz.
type Eligibility interface {
	CanTake(ctx context.Context, req lmsapi.CanTakeRequest) (*domain.Eligibility, error)
}

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Eligibility  Eligibility
	Session      *session.Service
	Progress     *progress.Service
	Scoreboard   *scoreboard.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	el Eligibility
	vs *session.Service
	ps *progress.Service
	sb *scoreboard.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		el:     c.Eligibility,
		vs:     c.Session,
		ps:     c.Progress,
		sb:     c.Scoreboard,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	// HTTP APIs
	v1 := c.Router.Group("/v1", requireUser)
	{
		v1.GET("/quizzes/:quizID/eligibility", a.GetEligibility)
		v1.GET("/quizzes/:quizID/scoreboard", a.GetScoreboard)
		v1.POST("/quizzes/:quizID/views", a.OpenView)

		v1.GET("/views/:viewID", a.GetView)
		v1.PUT("/views/:viewID/responses/:questionID", a.SelectChoice)
		v1.POST("/views/:viewID/next", a.NextQuestion)
		v1.POST("/views/:viewID/previous", a.PreviousQuestion)
		v1.POST("/views/:viewID/jump", a.JumpToQuestion)
		v1.POST("/views/:viewID/finish", a.FinishAttempt)
		v1.DELETE("/views/:viewID", a.CloseView)

		v1.GET("/courses/:courseID/progress", a.GetCourseProgress)
		v1.GET("/dashboard/progress", a.GetDashboard)
	}

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameAttemptFinished, func(ctx context.Context, e event.Event) error {
		return a.PublishAttemptFinished(ctx, e.(domain.EventAttemptFinished))
	})
	c.EventBus.Subscribe(domain.EventNameScoreboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishScoreboardUpdated(ctx, e.(domain.EventScoreboardUpdated))
	})

	return a
}

func requireUser(c *gin.Context) {
	u := c.GetHeader(lmsapi.HeaderUserID)
	if u == "" {
		fail(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing %s header", lmsapi.HeaderUserID)))
		return
	}

	c.Set(ctxKeyUser, u)
	c.Next()
}

func user(c *gin.Context) string {
	return c.GetString(ctxKeyUser)
}

// fail aborts the request with the error rendered as {code, message}. Internal causes are
// logged, never sent.
func fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	_ = c.Error(err)

	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"route", c.FullPath(),
			"error", err,
		)
		e = errors.New(errors.CodeInternal)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

func invalid(c *gin.Context, err error) {
	fail(c, errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("invalid request body: %v", err),
		errors.WithCause(err)))
}

func ok(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}
