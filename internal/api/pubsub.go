package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/victornm/elms/internal/domain"
)

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type AttemptFinished struct {
	QuizID  string `json:"quiz_id"`
	Trigger string `json:"trigger"`
	Result  Result `json:"result"`
}

// PublishAttemptFinished tells the user's open pages that an attempt was graded, including
// attempts submitted by the countdown while nobody was looking.
func (a *API) PublishAttemptFinished(ctx context.Context, e domain.EventAttemptFinished) error {
	r := e.Result

	return a.publishNotification(ctx, a.userChannel(r.Username), e.Name(), AttemptFinished{
		QuizID:  r.QuizID,
		Trigger: string(e.Trigger),
		Result:  *makeResult(r),
	})
}

// PublishScoreboardUpdated pushes the new scoreboard to the quiz's dashboard channel.
func (a *API) PublishScoreboardUpdated(ctx context.Context, e domain.EventScoreboardUpdated) error {
	b := e.Scoreboard
	return a.publishNotification(ctx, a.quizChannel(b.QuizID), e.Name(), makeScoreboard(b))
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func (a *API) userChannel(user string) string {
	return fmt.Sprintf("%s:user:%s", a.prefix, user)
}

func (a *API) quizChannel(quiz string) string {
	return fmt.Sprintf("%s:quiz:%s", a.prefix, quiz)
}
