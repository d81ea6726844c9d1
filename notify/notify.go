// Package notify publishes component state changes to NATS so remote
// consumers can follow the runtime in real time.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/apache/karaf-sub011/component"
	"github.com/apache/karaf-sub011/health"
)

// Publisher sends a payload on a subject. *natsclient.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// StateEvent is the payload published for each transition.
type StateEvent struct {
	Timestamp string `json:"timestamp"` // RFC3339
	Component string `json:"component"`
	From      string `json:"from"`
	To        string `json:"to"`
	Health    string `json:"health"`
}

// Notifier turns lifecycle transitions into NATS messages on
// "<prefix>.<component>.state".
type Notifier struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
}

// New creates a Notifier. A nil pub yields a Notifier that only logs.
func New(pub Publisher, prefix string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "scr.events"
	}
	return &Notifier{pub: pub, prefix: prefix, logger: logger.With("component", "notify")}
}

// Subject returns the subject used for a component.
func (n *Notifier) Subject(name string) string {
	return n.prefix + "." + sanitizeToken(name) + ".state"
}

// ObserveState matches component.StateListener. It never blocks on the
// network beyond the client's buffered publish.
func (n *Notifier) ObserveState(name string, from, to component.State) {
	n.logger.Debug("Component state changed", "name", name, "from", from.String(), "to", to.String())
	if n.pub == nil {
		return
	}

	data, err := json.Marshal(StateEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Component: name,
		From:      from.String(),
		To:        to.String(),
		Health:    health.Level(to),
	})
	if err != nil {
		n.logger.Error("Failed to marshal state event", "error", err)
		return
	}

	subject := n.Subject(name)
	if err := n.pub.Publish(context.Background(), subject, data); err != nil {
		n.logger.Debug("Failed to publish state event", "subject", subject, "error", err)
	}
}

// Chain combines several listeners into one. Nil entries are skipped.
func Chain(listeners ...component.StateListener) component.StateListener {
	var live []component.StateListener
	for _, l := range listeners {
		if l != nil {
			live = append(live, l)
		}
	}
	return func(name string, from, to component.State) {
		for _, l := range live {
			l(name, from, to)
		}
	}
}

func sanitizeToken(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, name)
}
