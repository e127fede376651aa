package bridge

import "sync"

// Contexts tracks why outbound calls were placed. The control surface records
// a reason when it dials; the bridge activates it when the carrier stream for
// that call starts, so the completion proxy can inject it into the prompt.
type Contexts struct {
	mu      sync.Mutex
	pending map[string]string
	active  string
}

func NewContexts() *Contexts {
	return &Contexts{pending: make(map[string]string)}
}

// Add records the reason for a just-placed outbound call.
func (c *Contexts) Add(callSID, reason string) {
	if callSID == "" || reason == "" {
		return
	}
	c.mu.Lock()
	c.pending[callSID] = reason
	c.mu.Unlock()
}

// Activate promotes the pending reason for callSID to the active slot and
// returns it. Inbound calls have no pending entry and clear the slot.
func (c *Contexts) Activate(callSID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	reason := c.pending[callSID]
	delete(c.pending, callSID)
	c.active = reason
	return reason
}

// Active returns the reason for the call currently on the line, or "".
func (c *Contexts) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Clear drops the active slot and any pending entry for callSID.
func (c *Contexts) Clear(callSID string) {
	c.mu.Lock()
	delete(c.pending, callSID)
	c.active = ""
	c.mu.Unlock()
}
