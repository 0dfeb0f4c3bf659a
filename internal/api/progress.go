package api

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/elms/internal/domain"
	"github.com/victornm/elms/internal/errors"
	"github.com/victornm/elms/internal/progress"
	"github.com/victornm/elms/internal/scoreboard"
)

type (
	Progress struct {
		CourseID   string `json:"course_id"`
		Title      string `json:"title,omitempty"`
		Completed  int    `json:"completed"`
		Total      int    `json:"total"`
		Percentage int    `json:"percentage"`
	}

	Scoreboard struct {
		QuizID  string            `json:"quiz_id"`
		Entries []ScoreboardEntry `json:"entries"`
	}

	ScoreboardEntry struct {
		Username   string `json:"username"`
		Percentage string `json:"percentage"`
	}
)

// GetCourseProgress serves the cached summary. ?refresh=true drops the user's cached completions
// first, for a page that just saw a lesson completed.
func (a *API) GetCourseProgress(c *gin.Context) {
	ctx := c.Request.Context()
	req := progress.GetCourseProgressRequest{
		Username: user(c),
		CourseID: c.Param("courseID"),
	}

	if s := c.Query("refresh"); s != "" {
		refresh, err := strconv.ParseBool(s)
		if err != nil {
			fail(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid refresh: %q", s)))
			return
		}

		if refresh {
			err := a.ps.Invalidate(ctx, progress.InvalidateRequest{Username: req.Username, CourseID: req.CourseID})
			if err != nil {
				slog.WarnContext(ctx, "api: invalidate progress failed", "course", req.CourseID, "error", err)
			}
		}
	}

	p, err := a.ps.GetCourseProgress(ctx, req)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, makeProgress(*p))
}

func (a *API) GetDashboard(c *gin.Context) {
	ps, err := a.ps.GetDashboard(c.Request.Context(), progress.GetDashboardRequest{
		Username: user(c),
	})
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]Progress, 0, len(ps))
	for _, p := range ps {
		out = append(out, makeProgress(p))
	}

	ok(c, out)
}

func (a *API) GetScoreboard(c *gin.Context) {
	var limit int64
	if s := c.Query("limit"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			fail(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid limit: %q", s)))
			return
		}
		limit = n
	}

	b, err := a.sb.GetScoreboard(c.Request.Context(), scoreboard.GetScoreboardRequest{
		QuizID: c.Param("quizID"),
		Limit:  limit,
	})
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, makeScoreboard(*b))
}

func makeProgress(p domain.Progress) Progress {
	return Progress{
		CourseID:   p.CourseID,
		Title:      p.Title,
		Completed:  p.Completed,
		Total:      p.Total,
		Percentage: p.Percentage,
	}
}

func makeScoreboard(b domain.Scoreboard) Scoreboard {
	out := Scoreboard{
		QuizID:  b.QuizID,
		Entries: make([]ScoreboardEntry, 0, len(b.Entries)),
	}

	for _, e := range b.Entries {
		out.Entries = append(out.Entries, ScoreboardEntry{
			Username:   e.Username,
			Percentage: strconv.FormatFloat(e.Percentage, 'f', -1, 64),
		})
	}

	return out
}
