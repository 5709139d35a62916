package memory

import (
	"context"
	"time"
)

// Summary is what one call leaves behind for the next one.
type Summary struct {
	CustomerID string            `json:"customer_id"`
	Text       string            `json:"text"`
	Outcome    string            `json:"outcome"`
	Slots      map[string]string `json:"slots,omitempty"`
	Turns      int               `json:"turns"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Store is the optional cross-session summary store.
type Store interface {
	Load(ctx context.Context, customerID string) (Summary, bool, error)
	Save(ctx context.Context, summary Summary) error
}

// Noop remembers nothing: every caller is new.
type Noop struct{}

func (Noop) Load(context.Context, string) (Summary, bool, error) { return Summary{}, false, nil }
func (Noop) Save(context.Context, Summary) error                 { return nil }
