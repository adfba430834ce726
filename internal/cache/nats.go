package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/nats-io/nats.go"

	"github.com/livinlefevreloca/upkeep/internal/maintenance"
)

// DefaultPurgeSubject is where purge events go when none is configured
const DefaultPurgeSubject = "upkeep.cache.purge"

// Publisher is the part of *nats.Conn the purge backend needs
type Publisher interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

var _ Publisher = (*nats.Conn)(nil)

// PurgeEvent tells edge caches to drop everything they hold for a site
type PurgeEvent struct {
	Site  string    `json:"site"`
	RunID string    `json:"run_id,omitempty"`
	At    time.Time `json:"at"`
}

// NATSPurge publishes a PurgeEvent
type NATSPurge struct {
	name    string
	site    string
	subject string
	conn    Publisher
	clock   clock.Clock
}

// NewNATSPurge creates a NATS purge backend
func NewNATSPurge(name, site, subject string, conn Publisher, clk clock.Clock) *NATSPurge {
	if subject == "" {
		subject = DefaultPurgeSubject
	}
	if name == "" {
		name = "nats:" + subject
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &NATSPurge{name: name, site: site, subject: subject, conn: conn, clock: clk}
}

// Name returns the backend name
func (n *NATSPurge) Name() string {
	return n.name
}

// TryInvalidate publishes the event and waits for the server to take it
func (n *NATSPurge) TryInvalidate(ctx context.Context) (bool, error) {
	data, err := json.Marshal(PurgeEvent{
		Site:  n.site,
		RunID: maintenance.RunIDFromContext(ctx),
		At:    n.clock.Now().UTC(),
	})
	if err != nil {
		return false, err
	}

	if err := n.conn.Publish(n.subject, data); err != nil {
		return false, fmt.Errorf("publish %s: %w", n.subject, err)
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return false, fmt.Errorf("flush %s: %w", n.subject, err)
	}
	return true, nil
}

// RegisterDefaults registers the "http" backend, and the "nats" backend
// when conn is non-nil.
func RegisterDefaults(r *Registry, site string, conn Publisher) error {
	if err := r.Register("http", httpFactory); err != nil {
		return err
	}
	if conn == nil {
		return nil
	}
	return r.Register("nats", func(spec BackendSpec) (Backend, error) {
		return NewNATSPurge(spec.Name, site, spec.Subject, conn, nil), nil
	})
}
