package score

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/elms/internal/domain"
)

var hundred = decimal.NewFromInt(100)

type Config struct {
	// PassPercentage is the lowest percentage that passes, 0..100.
	PassPercentage float64
}

type Service struct {
	pass decimal.Decimal
}

func NewService(c Config) *Service {
	return &Service{
		pass: decimal.NewFromFloat(c.PassPercentage),
	}
}

type GradeRequest struct {
	Quiz       *domain.Quiz
	Username   string
	Responses  map[string]string
	Scored     *domain.ScoredAttempt
	FinishedAt time.Time
}

// Grade turns the LMS grading of an attempt into the result shown to the user. Correctness is
// listed in question order; questions the LMS did not report on count as incorrect.
func (s *Service) Grade(req GradeRequest) domain.Result {
	res := domain.Result{
		AttemptID:  req.Scored.AttemptID,
		QuizID:     req.Quiz.QuizID,
		Username:   req.Username,
		Score:      req.Scored.Score,
		MaxScore:   req.Scored.MaxScore,
		Percentage: Percentage(req.Scored.Score, req.Scored.MaxScore),
		FinishedAt: req.FinishedAt,
	}
	res.Passed = res.Percentage.GreaterThanOrEqual(s.pass)

	correct := make(map[string]bool, len(req.Scored.Answers))
	for _, a := range req.Scored.Answers {
		correct[a.QuestionID] = a.Correct
	}

	res.Answers = make([]domain.AnswerResult, 0, len(req.Quiz.Questions))
	for _, q := range req.Quiz.Questions {
		res.Answers = append(res.Answers, domain.AnswerResult{
			QuestionID: q.QuestionID,
			Correct:    correct[q.QuestionID],
		})

		if _, ok := req.Responses[q.QuestionID]; !ok {
			res.Unanswered = append(res.Unanswered, q.QuestionID)
		}
	}

	return res
}

// Percentage is score/maxScore as a percentage rounded to 2 decimal places, 0 when maxScore is not positive.
func Percentage(score, maxScore int) decimal.Decimal {
	if maxScore <= 0 {
		return decimal.Zero
	}

	return decimal.NewFromInt(int64(score)).
		Mul(hundred).
		DivRound(decimal.NewFromInt(int64(maxScore)), 2)
}
