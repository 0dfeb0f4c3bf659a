package domain

const (
	EventNameAttemptStarted   = "attempt.started"
	EventNameAttemptFinished  = "attempt.finished"
	EventNameAttemptAbandoned = "attempt.abandoned"

	EventNameScoreboardUpdated = "scoreboard.updated"
)

// FinishTrigger tells what caused an attempt to be submitted.
type FinishTrigger string

const (
	FinishManual  FinishTrigger = "manual"
	FinishTimeout FinishTrigger = "timeout"
)

type EventAttemptStarted struct {
	Username string
	Attempt  AttemptRecord
}

func (EventAttemptStarted) Name() string { return EventNameAttemptStarted }

type EventAttemptFinished struct {
	Trigger FinishTrigger
	Result  Result
}

func (EventAttemptFinished) Name() string { return EventNameAttemptFinished }

type EventAttemptAbandoned struct {
	Username  string
	QuizID    string
	AttemptID string
}

func (EventAttemptAbandoned) Name() string { return EventNameAttemptAbandoned }

type EventScoreboardUpdated struct {
	Scoreboard Scoreboard
}

func (EventScoreboardUpdated) Name() string { return EventNameScoreboardUpdated }
