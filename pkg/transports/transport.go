package transports

import (
	"context"

	"github.com/harunnryd/parley/pkg/session"
)

// Transport is the network boundary that carries caller audio into
// sessions and agent audio back out. Implementations own their listener.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Sessions is the part of the session registry a transport drives.
type Sessions interface {
	GetOrCreate(ctx context.Context, id, customerID string) (*session.Session, bool, error)
	Remove(ctx context.Context, id string) error
	Count() int64
	Draining() bool
}

// ReadyReporter allows transports to expose readiness metadata (e.g. the
// websocket URL). Used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}

var _ Sessions = (*session.Registry)(nil)
