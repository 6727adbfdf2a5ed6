package background

import (
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/rileyhilliard/acsf-tools/internal/runlog"
)

// Event is one attempt's result as handed to a Notifier.
type Event struct {
	SiteID  string
	Kind    runlog.Kind
	Message string
	LogPath string
}

// Notifier is told about every success and error entry a run writes.
type Notifier interface {
	Notify(e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event) error

// Notify calls f(e).
func (f NotifierFunc) Notify(e Event) error { return f(e) }

type logNotifier struct {
	log logger.Logger
}

// NewLogNotifier reports events through the logger.
func NewLogNotifier(l logger.Logger) Notifier {
	if l == nil {
		l = logger.Noop()
	}
	return &logNotifier{log: l}
}

func (n *logNotifier) Notify(e Event) error {
	if e.Kind == runlog.KindError {
		n.log.Error("Background task for %s failed, see %s", e.SiteID, e.LogPath)
		return nil
	}
	n.log.Info("Background task for %s finished, see %s", e.SiteID, e.LogPath)
	return nil
}
