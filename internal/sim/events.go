package sim

// EventType identifies a controller notification.
type EventType string

const (
	EventStarted               EventType = "started"
	EventStopped               EventType = "stopped"
	EventConfigurationRejected EventType = "configuration-rejected"
	EventFrame                 EventType = "frame"
)

// Event is delivered to subscribers. Reason is set for Stopped and
// ConfigurationRejected, Frame only for EventFrame.
type Event struct {
	Type   EventType `json:"type"`
	RunID  string    `json:"run_id,omitempty"`
	Reason string    `json:"reason,omitempty"`
	Frame  *Frame    `json:"frame,omitempty"`
}

// Subscribe registers fn for controller events and returns a function that
// removes it. fn runs on the executor goroutine for frame events, so it
// must not block and must not call back into Start or Stop.
func (c *Controller) Subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	c.subMu.Lock()
	c.subSeq++
	id := c.subSeq
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// emit notifies subscribers outside the controller lock.
func (c *Controller) emit(ev Event) {
	c.subMu.Lock()
	fns := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
