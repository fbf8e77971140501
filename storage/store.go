// Package storage keeps the last known value of every metric an entity
// published or received, so births can carry current values and host
// applications can serve them.
//
// Metrics are grouped by scope, the "group/edge[/device]" path of the
// entity that owns them.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/luma/sparkplug/metric"
)

const UpdateBufferSize = 255

var (
	ErrClosed       = errors.New("store is closed")
	ErrInvalidScope = errors.New("invalid scope")
	ErrCorrupt      = errors.New("stored record is corrupt")
)

type Update struct {
	Scope  string
	Metric metric.Metric
}

type Store interface {
	// Set records the metrics as the latest values of scope
	Set(ctx context.Context, scope string, metrics ...metric.Metric) error
	Get(ctx context.Context, scope, name string) (metric.Metric, bool, error)
	// Values returns every metric of scope ordered by name
	Values(ctx context.Context, scope string) ([]metric.Metric, error)
	Scopes(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, scope string) error

	// Backup returns every scope as one JSON document that Restore accepts
	Backup(ctx context.Context) ([]byte, error)
	Restore(ctx context.Context, values []byte) error

	// ListenToUpdates returns a channel receiving every Set metric. A
	// listener that falls UpdateBufferSize updates behind misses updates.
	ListenToUpdates() <-chan *Update

	Close() error
}

// Scope joins entity ids into a store scope. Empty ids are skipped.
func Scope(ids ...string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			parts = append(parts, id)
		}
	}

	return strings.Join(parts, "/")
}

func validScope(scope string) error {
	if scope == "" {
		return ErrInvalidScope
	}

	return nil
}
