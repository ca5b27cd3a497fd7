package realtime

import (
	"github.com/gaslight/leakview/internal/session"
)

// Outbound event names carried over the page websocket besides playback commands.
const (
	EventState    = "state"
	EventProgress = "progress"
	EventNotice   = "notice"
)

// ProgressPayload is the body of a progress event.
type ProgressPayload struct {
	Percent int `json:"percent"`
}

// SessionObserver forwards session events to the pages attached to the session.
func (h *Hub) SessionObserver() session.Observer {
	return func(ev session.Event) {
		switch ev.Kind {
		case session.EventState:
			h.Dispatch(ev.Session, EventState, ev.Snapshot)
		case session.EventProgress:
			h.Dispatch(ev.Session, EventProgress, ProgressPayload{Percent: ev.Progress})
		case session.EventNotice:
			if ev.Notice != nil {
				h.Dispatch(ev.Session, EventNotice, ev.Notice)
			}
		}
	}
}
