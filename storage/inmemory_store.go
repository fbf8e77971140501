package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/sparkplug/metric"
)

// InmemoryStore keeps every scope in one JSON document, the same document
// Backup returns.
type InmemoryStore struct {
	mu     sync.RWMutex
	values []byte

	updates updates
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:  []byte(""),
		updates: newUpdates(),
	}
}

func (i *InmemoryStore) Close() error {
	i.updates.close()
	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, scope string, metrics ...metric.Metric) error {
	if !i.updates.isRunning() {
		return ErrClosed
	}

	if err := validScope(scope); err != nil {
		return err
	}

	for _, m := range metrics {
		if m.Name == "" {
			return metric.ErrEmptyName
		}

		rec, err := marshalRecord(m)
		if err != nil {
			return fmt.Errorf("Failed to store '%s' in '%s': %w", m.Name, scope, err)
		}

		i.mu.Lock()
		i.values, err = sjson.SetRawBytes(i.values, escapePath(scope)+"."+escapePath(m.Name), rec)
		i.mu.Unlock()

		if err != nil {
			return err
		}

		i.updates.send(&Update{Scope: scope, Metric: m})
	}

	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, scope, name string) (metric.Metric, bool, error) {
	i.mu.RLock()
	rec := gjson.GetBytes(i.values, escapePath(scope)+"."+escapePath(name))
	i.mu.RUnlock()

	if !rec.Exists() {
		return metric.Metric{}, false, nil
	}

	m, err := unmarshalRecord(name, rec)
	if err != nil {
		return metric.Metric{}, false, err
	}

	return m, true, nil
}

func (i *InmemoryStore) Values(ctx context.Context, scope string) ([]metric.Metric, error) {
	i.mu.RLock()
	doc := gjson.GetBytes(i.values, escapePath(scope))
	i.mu.RUnlock()

	return recordsOf(doc)
}

func (i *InmemoryStore) Scopes(ctx context.Context) ([]string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var scopes []string
	gjson.ParseBytes(i.values).ForEach(func(key, _ gjson.Result) bool {
		scopes = append(scopes, key.String())
		return true
	})

	sort.Strings(scopes)
	return scopes, nil
}

func (i *InmemoryStore) Delete(ctx context.Context, scope string) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.values, err = sjson.DeleteBytes(i.values, escapePath(scope))
	return err
}

func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	return i.updates.listen()
}

func (i *InmemoryStore) Restore(ctx context.Context, values []byte) error {
	if err := validateDocument(values); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values = append([]byte(nil), values...)
	return nil
}

func (i *InmemoryStore) Backup(ctx context.Context) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.values) == 0 {
		return []byte("{}"), nil
	}

	return append([]byte(nil), i.values...), nil
}

// recordsOf decodes every record of one scope object, ordered by name.
func recordsOf(doc gjson.Result) (out []metric.Metric, err error) {
	if !doc.Exists() {
		return nil, nil
	}

	doc.ForEach(func(key, rec gjson.Result) bool {
		var m metric.Metric
		if m, err = unmarshalRecord(key.String(), rec); err != nil {
			return false
		}

		out = append(out, m)
		return true
	})

	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// validateDocument checks that a backup decodes completely.
func validateDocument(values []byte) (err error) {
	if !gjson.ValidBytes(values) || !gjson.ParseBytes(values).IsObject() {
		return fmt.Errorf("backup is not a JSON object: %w", ErrCorrupt)
	}

	gjson.ParseBytes(values).ForEach(func(scope, doc gjson.Result) bool {
		if !doc.IsObject() {
			err = fmt.Errorf("scope '%s': %w", scope.String(), ErrCorrupt)
			return false
		}

		_, err = recordsOf(doc)
		return err == nil
	})

	return err
}

var _ Store = (*InmemoryStore)(nil)
