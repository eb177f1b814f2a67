package notify

import "github.com/CanopyNet/canopy-core/internal/session"

// Event is what notifiers get when a session reaches a terminal state.
type Event struct {
	Info      session.Info
	ShareLink string
}

// Notifier announces finished sessions to an external channel.
type Notifier interface {
	SessionCompleted(evt Event) error
	SessionFailed(evt Event) error
}
