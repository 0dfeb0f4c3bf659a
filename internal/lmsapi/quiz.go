package lmsapi

import (
	"context"
	"net/http"
	"time"

	"github.com/victornm/elms/internal/domain"
)

type (
	quizBody struct {
		ID              string         `json:"id"`
		Title           string         `json:"title"`
		Duration        *int           `json:"duration,omitempty"`
		AttemptsAllowed int            `json:"attempts_allowed"`
		Questions       []questionBody `json:"questions"`
	}

	questionBody struct {
		ID       string       `json:"id"`
		Text     string       `json:"text"`
		ImageURL string       `json:"image_url,omitempty"`
		Choices  []choiceBody `json:"choices"`
	}

	choiceBody struct {
		ID    string `json:"id"`
		Label string `json:"label"`
		Text  string `json:"text"`
	}

	canTakeBody struct {
		CanTake bool   `json:"can_take"`
		Reason  string `json:"reason,omitempty"`
	}

	attemptBody struct {
		ID        string    `json:"id"`
		QuizID    string    `json:"quiz_id"`
		StartedAt time.Time `json:"started_at"`
	}

	submitBody struct {
		Responses []responseBody `json:"responses"`
	}

	responseBody struct {
		QuestionID string `json:"question_id"`
		ChoiceID   string `json:"choice_id"`
	}

	scoredBody struct {
		AttemptID string       `json:"attempt_id"`
		Score     int          `json:"score"`
		MaxScore  int          `json:"max_score"`
		Answers   []answerBody `json:"answers"`
	}

	answerBody struct {
		QuestionID string `json:"question_id"`
		Correct    bool   `json:"correct"`
	}
)

type GetQuizRequest struct {
	Username string
	QuizID   string
}

// GetQuiz fetches the questions and choices of a quiz. Correct answers are never part of it.
func (c *Client) GetQuiz(ctx context.Context, req GetQuizRequest) (*domain.Quiz, error) {
	var b quizBody
	p, err := resourcePath("/quizzes/%s", req.QuizID)
	if err != nil {
		return nil, err
	}
	if err = c.do(ctx, "get quiz", http.MethodGet, p, nil, req.Username, nil, &b); err != nil {
		return nil, err
	}

	q := &domain.Quiz{
		QuizID:          b.ID,
		Title:           b.Title,
		AttemptsAllowed: b.AttemptsAllowed,
		Questions:       make([]domain.Question, 0, len(b.Questions)),
	}
	if b.Duration != nil && *b.Duration > 0 {
		q.Duration = time.Duration(*b.Duration) * time.Second
	}

	for _, qb := range b.Questions {
		qq := domain.Question{
			QuestionID: qb.ID,
			Text:       qb.Text,
			ImageURL:   qb.ImageURL,
			Choices:    make([]domain.Choice, 0, len(qb.Choices)),
		}
		for _, cb := range qb.Choices {
			qq.Choices = append(qq.Choices, domain.Choice{
				ChoiceID: cb.ID,
				Label:    cb.Label,
				Text:     cb.Text,
			})
		}
		q.Questions = append(q.Questions, qq)
	}

	return q, nil
}

type CanTakeRequest struct {
	Username string
	QuizID   string
}

func (c *Client) CanTake(ctx context.Context, req CanTakeRequest) (*domain.Eligibility, error) {
	var b canTakeBody
	p, err := resourcePath("/quizzes/%s/can-take", req.QuizID)
	if err != nil {
		return nil, err
	}
	if err = c.do(ctx, "can take", http.MethodGet, p, nil, req.Username, nil, &b); err != nil {
		return nil, err
	}

	return &domain.Eligibility{CanTake: b.CanTake, Reason: b.Reason}, nil
}

type StartAttemptRequest struct {
	Username string
	QuizID   string
}

// StartAttempt asks the LMS to allocate a graded attempt.
func (c *Client) StartAttempt(ctx context.Context, req StartAttemptRequest) (*domain.AttemptRecord, error) {
	var b attemptBody
	p, err := resourcePath("/quizzes/%s/attempts", req.QuizID)
	if err != nil {
		return nil, err
	}
	if err = c.do(ctx, "start attempt", http.MethodPost, p, nil, req.Username, struct{}{}, &b); err != nil {
		return nil, err
	}

	quizID := b.QuizID
	if quizID == "" {
		quizID = req.QuizID
	}

	return &domain.AttemptRecord{
		AttemptID: b.ID,
		QuizID:    quizID,
		StartedAt: b.StartedAt,
	}, nil
}

type SubmitAttemptRequest struct {
	Username  string
	AttemptID string
	Responses []domain.Response
}

// SubmitAttempt sends every buffered response and returns the graded attempt.
func (c *Client) SubmitAttempt(ctx context.Context, req SubmitAttemptRequest) (*domain.ScoredAttempt, error) {
	in := submitBody{Responses: make([]responseBody, 0, len(req.Responses))}
	for _, r := range req.Responses {
		in.Responses = append(in.Responses, responseBody{QuestionID: r.QuestionID, ChoiceID: r.ChoiceID})
	}

	var b scoredBody
	p, err := resourcePath("/attempts/%s/submit", req.AttemptID)
	if err != nil {
		return nil, err
	}
	if err = c.do(ctx, "submit attempt", http.MethodPost, p, nil, req.Username, in, &b); err != nil {
		return nil, err
	}

	sa := &domain.ScoredAttempt{
		AttemptID: b.AttemptID,
		Score:     b.Score,
		MaxScore:  b.MaxScore,
		Answers:   make([]domain.AnswerResult, 0, len(b.Answers)),
	}
	if sa.AttemptID == "" {
		sa.AttemptID = req.AttemptID
	}
	for _, a := range b.Answers {
		sa.Answers = append(sa.Answers, domain.AnswerResult{QuestionID: a.QuestionID, Correct: a.Correct})
	}

	return sa, nil
}
