package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/elms/internal/attempt"
	"github.com/victornm/elms/internal/domain"
	"github.com/victornm/elms/internal/lmsapi"
	"github.com/victornm/elms/internal/session"
)

type (
	EligibilityResponse struct {
		CanTake bool   `json:"can_take"`
		Reason  string `json:"reason,omitempty"`
	}

	View struct {
		ViewID         string            `json:"view_id"`
		State          string            `json:"state"`
		Active         bool              `json:"active"`
		QuizID         string            `json:"quiz_id"`
		Title          string            `json:"title,omitempty"`
		AttemptID      string            `json:"attempt_id,omitempty"`
		StartedAt      *time.Time        `json:"started_at,omitempty"`
		CurrentIndex   int               `json:"current_index"`
		TotalQuestions int               `json:"total_questions"`
		Question       *Question         `json:"question,omitempty"`
		Answered       []bool            `json:"answered,omitempty"`
		Responses      map[string]string `json:"responses,omitempty"`
		TimeRemaining  *int              `json:"time_remaining,omitempty"`
		Expired        bool              `json:"expired"`
		Result         *Result           `json:"result,omitempty"`
	}

	Question struct {
		QuestionID string   `json:"id"`
		Text       string   `json:"text"`
		ImageURL   string   `json:"image_url,omitempty"`
		Choices    []Choice `json:"choices"`
	}

	Choice struct {
		ChoiceID string `json:"id"`
		Label    string `json:"label"`
		Text     string `json:"text"`
	}

	Result struct {
		AttemptID  string   `json:"attempt_id"`
		Score      int      `json:"score"`
		MaxScore   int      `json:"max_score"`
		Percentage string   `json:"percentage"`
		Passed     bool     `json:"passed"`
		Answers    []Answer `json:"answers"`
		Unanswered []string `json:"unanswered,omitempty"`
	}

	Answer struct {
		QuestionID string `json:"question_id"`
		Correct    bool   `json:"correct"`
	}

	SelectChoiceRequest struct {
		ChoiceID string `json:"choice_id" binding:"required"`
	}

	JumpRequest struct {
		Index *int `json:"index" binding:"required"`
	}
)

func (a *API) GetEligibility(c *gin.Context) {
	el, err := a.el.CanTake(c.Request.Context(), lmsapi.CanTakeRequest{
		Username: user(c),
		QuizID:   c.Param("quizID"),
	})
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, EligibilityResponse{CanTake: el.CanTake, Reason: el.Reason})
}

// OpenView mounts a quiz view and starts its attempt.
func (a *API) OpenView(c *gin.Context) {
	resp, err := a.vs.Open(c.Request.Context(), session.OpenRequest{
		Username: user(c),
		QuizID:   c.Param("quizID"),
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, makeView(resp.ViewID, resp.Controller))
}

func (a *API) GetView(c *gin.Context) {
	a.withView(c, func(*attempt.Controller) error { return nil })
}

func (a *API) SelectChoice(c *gin.Context) {
	var req SelectChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}

	a.withView(c, func(ctl *attempt.Controller) error {
		return ctl.SelectChoice(c.Param("questionID"), req.ChoiceID)
	})
}

func (a *API) NextQuestion(c *gin.Context) {
	a.withView(c, (*attempt.Controller).Next)
}

func (a *API) PreviousQuestion(c *gin.Context) {
	a.withView(c, (*attempt.Controller).Previous)
}

func (a *API) JumpToQuestion(c *gin.Context) {
	var req JumpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}

	a.withView(c, func(ctl *attempt.Controller) error {
		return ctl.Jump(*req.Index)
	})
}

// FinishAttempt submits the attempt. A failed submission leaves the attempt active, so the
// client may retry the same call.
func (a *API) FinishAttempt(c *gin.Context) {
	a.withView(c, func(ctl *attempt.Controller) error {
		_, err := ctl.Finish(c.Request.Context())
		return err
	})
}

// CloseView unmounts the view, abandoning an unfinished attempt.
func (a *API) CloseView(c *gin.Context) {
	err := a.vs.Close(c.Request.Context(), session.CloseRequest{
		Username: user(c),
		ViewID:   c.Param("viewID"),
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// withView runs op on the view's controller and renders the resulting view.
func (a *API) withView(c *gin.Context, op func(ctl *attempt.Controller) error) {
	id := c.Param("viewID")

	ctl, err := a.vs.Get(c.Request.Context(), session.GetRequest{Username: user(c), ViewID: id})
	if err != nil {
		fail(c, err)
		return
	}

	if err := op(ctl); err != nil {
		fail(c, err)
		return
	}

	ok(c, makeView(id, ctl))
}

func makeView(id string, ctl *attempt.Controller) View {
	v := ctl.View()

	out := View{
		ViewID:         id,
		State:          v.State.String(),
		Active:         v.Active(),
		QuizID:         v.QuizID,
		Title:          v.Title,
		AttemptID:      v.AttemptID,
		CurrentIndex:   v.CurrentIndex,
		TotalQuestions: v.TotalQuestions,
		Responses:      v.Responses,
		Expired:        v.Expired,
	}

	if !v.StartedAt.IsZero() {
		out.StartedAt = &v.StartedAt
	}

	if v.Timed {
		remaining := v.TimeRemaining
		out.TimeRemaining = &remaining
	}

	if q, ok := ctl.Quiz(); ok {
		out.Answered = v.Answered(q)
	}

	if v.Current != nil {
		out.Question = makeQuestion(*v.Current)
	}

	if v.Result != nil {
		out.Result = makeResult(*v.Result)
	}

	return out
}

func makeQuestion(q domain.Question) *Question {
	out := &Question{
		QuestionID: q.QuestionID,
		Text:       q.Text,
		ImageURL:   q.ImageURL,
		Choices:    make([]Choice, 0, len(q.Choices)),
	}

	for _, ch := range q.Choices {
		out.Choices = append(out.Choices, Choice{ChoiceID: ch.ChoiceID, Label: ch.Label, Text: ch.Text})
	}

	return out
}

func makeResult(r domain.Result) *Result {
	out := &Result{
		AttemptID:  r.AttemptID,
		Score:      r.Score,
		MaxScore:   r.MaxScore,
		Percentage: r.Percentage.String(),
		Passed:     r.Passed,
		Answers:    make([]Answer, 0, len(r.Answers)),
		Unanswered: r.Unanswered,
	}

	for _, an := range r.Answers {
		out.Answers = append(out.Answers, Answer{QuestionID: an.QuestionID, Correct: an.Correct})
	}

	return out
}
