package jobs

import "fmt"

// schedulePoll arms the next tick for s.
func (c *Controller) schedulePoll(s *Session) {
	s.poll = c.sched.After(c.opts.PollInterval, func() { c.poll(s) })
}

// poll is one tick of the result relay. It drains every available event,
// then either reschedules itself or detects that the worker went away.
func (c *Controller) poll(s *Session) {
	if c.session != s {
		return
	}
	s.poll = nil

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("poll tick panicked", "session", s.ID, "panic", r)
			if c.session == s {
				c.emitPollError(r)
				c.cleanup()
			}
		}
	}()

	if c.drain(s) {
		return
	}
	if s.unit.Alive() {
		c.schedulePoll(s)
		return
	}
	// The unit may have exited between draining and the liveness check.
	if c.drain(s) {
		return
	}
	c.emitLog("Transcription process ended unexpectedly.")
	c.cleanup()
}

// emitPollError reports a recovered tick failure. A callback that panics
// again here must not escape the tick.
func (c *Controller) emitPollError(r any) {
	defer func() {
		if again := recover(); again != nil {
			c.logger.Error("log callback panicked", "panic", again)
		}
	}()
	c.emitLog(fmt.Sprintf("Polling error: %v", r))
}

// drain dispatches buffered events without blocking. It reports true once
// the session has ended, either through a terminal event or because a
// callback stopped it.
func (c *Controller) drain(s *Session) bool {
	for {
		select {
		case ev, ok := <-s.unit.Events():
			if !ok {
				return false
			}
			c.dispatch(s, ev)
			if c.session != s {
				return true
			}
		default:
			return false
		}
	}
}

func (c *Controller) dispatch(s *Session, ev Event) {
	switch ev.Kind {
	case EventLog:
		c.emitLog(ev.Text)
	case EventFileProgress:
		if c.cb.Progress != nil {
			c.cb.Progress(Progress{
				Overall:     ev.Overall,
				FileIndex:   ev.FileIndex,
				Total:       ev.Total,
				FilePercent: ev.FilePercent,
			})
		}
	case EventJobDone:
		s.Completed = ev.Completed
		if c.cb.Completed != nil {
			c.cb.Completed(ev.Completed, ev.Total)
		}
	case EventStreamDone:
		c.emitLog("All tasks finished.")
		c.cleanup()
	case EventFatalError:
		c.emitLog(ev.Text)
		c.cleanup()
	default:
		c.logger.Warn("unknown worker event", "session", s.ID, "kind", ev.Kind)
	}
}
