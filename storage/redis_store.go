package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/luma/sparkplug/metric"
)

const DefaultRedisPrefix = "sparkplug:"

// redisRecord is one metric as stored in a Redis hash field.
type redisRecord struct {
	Type      uint32      `msgpack:"type"`
	Value     interface{} `msgpack:"value"`
	Timestamp int64       `msgpack:"timestamp_ms"`
	Null      bool        `msgpack:"null"`
}

// RedisStore keeps one hash per scope, with a msgpack record per metric.
type RedisStore struct {
	rdb    *redis.Client
	prefix string

	updates updates
}

// NewRedisStore connects to a redis:// URL.
func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse redis URL '%s': %w", url, err)
	}

	return NewRedisStoreWithClient(redis.NewClient(opt), DefaultRedisPrefix), nil
}

func NewRedisStoreWithClient(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		rdb:     rdb,
		prefix:  prefix,
		updates: newUpdates(),
	}
}

func (r *RedisStore) key(scope string) string {
	return r.prefix + scope
}

func (r *RedisStore) Close() error {
	r.updates.close()
	return r.rdb.Close()
}

func (r *RedisStore) Set(ctx context.Context, scope string, metrics ...metric.Metric) error {
	if !r.updates.isRunning() {
		return ErrClosed
	}

	if err := validScope(scope); err != nil {
		return err
	}

	if len(metrics) == 0 {
		return nil
	}

	fields := make([]interface{}, 0, 2*len(metrics))
	for _, m := range metrics {
		if m.Name == "" {
			return metric.ErrEmptyName
		}

		raw, err := marshalRedisRecord(m)
		if err != nil {
			return fmt.Errorf("Failed to store '%s' in '%s': %w", m.Name, scope, err)
		}

		fields = append(fields, m.Name, raw)
	}

	if err := r.rdb.HSet(ctx, r.key(scope), fields...).Err(); err != nil {
		return err
	}

	for _, m := range metrics {
		r.updates.send(&Update{Scope: scope, Metric: m})
	}

	return nil
}

func (r *RedisStore) Get(ctx context.Context, scope, name string) (metric.Metric, bool, error) {
	raw, err := r.rdb.HGet(ctx, r.key(scope), name).Bytes()
	if err == redis.Nil {
		return metric.Metric{}, false, nil
	}

	if err != nil {
		return metric.Metric{}, false, err
	}

	m, err := unmarshalRedisRecord(name, raw)
	if err != nil {
		return metric.Metric{}, false, err
	}

	return m, true, nil
}

func (r *RedisStore) Values(ctx context.Context, scope string) ([]metric.Metric, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key(scope)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]metric.Metric, 0, len(fields))
	for name, raw := range fields {
		m, err := unmarshalRedisRecord(name, []byte(raw))
		if err != nil {
			return nil, err
		}

		out = append(out, m)
	}

	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

func (r *RedisStore) Scopes(ctx context.Context) ([]string, error) {
	var (
		scopes []string
		cursor uint64
	)

	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}

		for _, k := range keys {
			scopes = append(scopes, strings.TrimPrefix(k, r.prefix))
		}

		if cursor = next; cursor == 0 {
			break
		}
	}

	sort.Strings(scopes)
	return scopes, nil
}

func (r *RedisStore) Delete(ctx context.Context, scope string) error {
	return r.rdb.Del(ctx, r.key(scope)).Err()
}

func (r *RedisStore) ListenToUpdates() <-chan *Update {
	return r.updates.listen()
}

// Backup renders every scope in the JSON document format of InmemoryStore.
func (r *RedisStore) Backup(ctx context.Context) ([]byte, error) {
	scopes, err := r.Scopes(ctx)
	if err != nil {
		return nil, err
	}

	doc := []byte("{}")
	for _, scope := range scopes {
		metrics, err := r.Values(ctx, scope)
		if err != nil {
			return nil, err
		}

		for _, m := range metrics {
			rec, err := marshalRecord(m)
			if err != nil {
				return nil, err
			}

			if doc, err = sjson.SetRawBytes(doc, escapePath(scope)+"."+escapePath(m.Name), rec); err != nil {
				return nil, err
			}
		}
	}

	return doc, nil
}

// Restore replaces the scopes present in the document.
func (r *RedisStore) Restore(ctx context.Context, values []byte) error {
	if err := validateDocument(values); err != nil {
		return err
	}

	var err error
	gjson.ParseBytes(values).ForEach(func(scope, doc gjson.Result) bool {
		var metrics []metric.Metric
		if metrics, err = recordsOf(doc); err != nil {
			return false
		}

		if err = r.Delete(ctx, scope.String()); err != nil {
			return false
		}

		err = r.Set(ctx, scope.String(), metrics...)
		return err == nil
	})

	return err
}

func marshalRedisRecord(m metric.Metric) ([]byte, error) {
	v, err := storedValue(m)
	if err != nil {
		return nil, err
	}

	rec := redisRecord{
		Type:  uint32(m.DataType),
		Value: v,
		Null:  m.IsNull || m.Value == nil,
	}

	if !m.Timestamp.IsZero() {
		rec.Timestamp = m.Timestamp.UnixMilli()
	}

	return msgpack.Marshal(&rec)
}

func unmarshalRedisRecord(name string, raw []byte) (metric.Metric, error) {
	var rec redisRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return metric.Metric{}, fmt.Errorf("%q: %v: %w", name, err, ErrCorrupt)
	}

	m := metric.Metric{
		Name:     name,
		DataType: metric.DataType(rec.Type),
		IsNull:   rec.Null,
	}

	if !m.DataType.Valid() {
		return m, fmt.Errorf("%q: %w", name, ErrCorrupt)
	}

	if rec.Timestamp != 0 {
		m.Timestamp = time.UnixMilli(rec.Timestamp).UTC()
	}

	if m.IsNull {
		return m, nil
	}

	v, err := loadValue(m.DataType, rec.Value)
	if err != nil {
		return m, fmt.Errorf("%q: %w", name, err)
	}
	m.Value = v

	return m, nil
}

var _ Store = (*RedisStore)(nil)
