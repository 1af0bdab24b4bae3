package schemas

import "time"

// -- Session Schemas --

// SessionState enumerates the purchase lifecycle. Transitions are owned
// exclusively by the orchestrator; every other component reports status
// values and lets the orchestrator decide what is fatal.
type SessionState string

const (
	StateIdle         SessionState = "IDLE"          // No work in flight.
	StateSearching    SessionState = "SEARCHING"     // Driving the site's search surface.
	StateSelecting    SessionState = "SELECTING"     // Filtering and choosing a candidate.
	StateProductPage  SessionState = "PRODUCT_PAGE"  // On (or navigating to) the product page.
	StateCheckoutFlow SessionState = "CHECKOUT_FLOW" // Past the buy click; read-only monitoring.
	StateCompleted    SessionState = "COMPLETED"     // Terminal; requires explicit reset.
)

// Terminal reports whether the state accepts no further transitions.
func (s SessionState) Terminal() bool { return s == StateCompleted }

// Session is one end-to-end purchase attempt. Exactly one session is active
// at a time; the orchestrator owns and mutates it under its own lock and
// destroys it on completion, fatal error, or explicit reset.
type Session struct {
	ID             string       `json:"id"`
	State          SessionState `json:"state"`
	Intent         Intent       `json:"intent"`
	TabID          string       `json:"tab_id"`
	Platform       string       `json:"platform"`
	FiltersApplied bool         `json:"filters_applied"`
	NavRetries     int          `json:"nav_retries"`
	Selected       *ProductRef  `json:"selected,omitempty"`
	// StatusNote is the human-readable explanation attached to every
	// terminal or handoff condition. Silent failure is a defect.
	StatusNote string    `json:"status_note,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// -- Page Events --

// EventKind classifies the external signals that re-invoke the transition
// function.
type EventKind string

const (
	EventPageLoaded     EventKind = "page_loaded"
	EventQuerySubmitted EventKind = "query_submitted"
)

// PageEvent is an asynchronous signal from the browser side. Events carry
// the tab that produced them; the orchestrator discards events whose tab
// does not match the session's bound tab rather than queueing them.
type PageEvent struct {
	Kind  EventKind `json:"kind"`
	TabID string    `json:"tab_id"`
	URL   string    `json:"url,omitempty"`
	Query string    `json:"query,omitempty"`
}
