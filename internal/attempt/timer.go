package attempt

import (
	"context"
	"time"
)

const tickInterval = time.Second

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }

func (r realTicker) Stop() { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// startTimerLocked starts the countdown of the running attempt. c.mu must be held.
func (c *Controller) startTimerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	c.stopTimer = cancel

	t := c.newTicker(tickInterval)
	go c.runTimer(ctx, t)
}

// stopTimerLocked cancels the countdown. It is safe to call when no timer runs. c.mu must be held.
func (c *Controller) stopTimerLocked() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

func (c *Controller) runTimer(ctx context.Context, t Ticker) {
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
		}

		expired, submit := c.tick(ctx)
		if submit {
			c.finishOnTimeout()
		}
		if expired {
			return
		}
	}
}

// tick takes one second off the countdown. expired is true once the countdown reached zero;
// submit is true only for the tick that should trigger the automatic finish.
func (c *Controller) tick(ctx context.Context) (expired, submit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A tick may already be in flight when the timer is cancelled.
	if ctx.Err() != nil || !c.state.Active() {
		return true, false
	}

	if c.remaining > 0 {
		c.remaining--
	}
	if c.remaining > 0 {
		return false, false
	}

	c.expired = true
	c.stopTimerLocked()

	// A manual finish already in flight wins; it must not be sent twice.
	return true, c.state == StateActive
}
