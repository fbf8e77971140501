package storage

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/payload"
)

// storedValue turns a metric value into something JSON and msgpack can
// carry: DateTime becomes epoch milliseconds and composite values their
// Sparkplug B encoding.
func storedValue(m metric.Metric) (interface{}, error) {
	if m.IsNull || m.Value == nil {
		return nil, nil
	}

	switch m.DataType {
	case metric.DateTime:
		t, ok := m.Value.(time.Time)
		if !ok {
			return nil, metric.CheckValue(m.DataType, m.Value)
		}
		return t.UnixMilli(), nil

	case metric.DataSet, metric.Template:
		return payload.VersionB{}.Encode(&payload.Payload{
			Metrics: []metric.Metric{{Name: m.Name, DataType: m.DataType, Value: m.Value}},
		})
	}

	if err := metric.CheckValue(m.DataType, m.Value); err != nil {
		return nil, err
	}

	return m.Value, nil
}

// loadValue reverses storedValue. v may come from msgpack or from the JSON
// layer, which hands over bytes as base64 strings.
func loadValue(dt metric.DataType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	if dt != metric.DataSet && dt != metric.Template {
		return metric.Coerce(dt, v)
	}

	var raw []byte
	switch x := v.(type) {
	case []byte:
		raw = x
	case string:
		b, err := base64.StdEncoding.DecodeString(x)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrCorrupt)
		}
		raw = b
	default:
		return nil, fmt.Errorf("%s stored as %T: %w", dt, v, ErrCorrupt)
	}

	d, err := payload.VersionB{}.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrCorrupt)
	}

	metrics := d.Metrics()
	if len(metrics) != 1 || metrics[0].DataType != dt {
		return nil, fmt.Errorf("%s: %w", dt, ErrCorrupt)
	}

	return metrics[0].Value, nil
}

// marshalRecord renders a metric as the JSON record used in backups and in
// the in-memory store.
func marshalRecord(m metric.Metric) ([]byte, error) {
	v, err := storedValue(m)
	if err != nil {
		return nil, err
	}

	if b, ok := v.([]byte); ok {
		v = base64.StdEncoding.EncodeToString(b)
	}

	if f, ok := v.(float32); ok {
		v = float64(f)
	}

	rec := []byte("{}")
	for _, field := range []struct {
		path  string
		value interface{}
	}{
		{"type", m.DataType.String()},
		{"value", v},
		{"timestamp", m.Timestamp.UnixMilli()},
		{"null", m.IsNull || m.Value == nil},
	} {
		if rec, err = sjson.SetBytes(rec, field.path, field.value); err != nil {
			return nil, err
		}
	}

	if m.Timestamp.IsZero() {
		if rec, err = sjson.DeleteBytes(rec, "timestamp"); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

func unmarshalRecord(name string, rec gjson.Result) (metric.Metric, error) {
	m := metric.Metric{Name: name}

	if !rec.IsObject() {
		return m, fmt.Errorf("%q: %w", name, ErrCorrupt)
	}

	dt, err := metric.ParseDataType(rec.Get("type").String())
	if err != nil {
		return m, fmt.Errorf("%q: %v: %w", name, err, ErrCorrupt)
	}
	m.DataType = dt

	if ts := rec.Get("timestamp"); ts.Exists() {
		m.Timestamp = time.UnixMilli(ts.Int()).UTC()
	}

	value := rec.Get("value")
	if rec.Get("null").Bool() || !value.Exists() || value.Type == gjson.Null {
		m.IsNull = true
		return m, nil
	}

	m.Value, err = loadValue(dt, JSONValue(dt, value))
	if err != nil {
		return m, fmt.Errorf("%q: %w", name, err)
	}

	return m, nil
}

// JSONValue reads a JSON value with the precision dt needs. Large integers
// do not survive a trip through float64.
func JSONValue(dt metric.DataType, r gjson.Result) interface{} {
	if r.Type != gjson.Number {
		if r.Type == gjson.True || r.Type == gjson.False {
			return r.Bool()
		}

		return r.String()
	}

	switch dt {
	case metric.Int8, metric.Int16, metric.Int32, metric.Int64, metric.DateTime:
		return r.Int()
	case metric.UInt8, metric.UInt16, metric.UInt32, metric.UInt64:
		if strings.HasPrefix(r.Raw, "-") {
			return r.Int()
		}
		return r.Uint()
	default:
		return r.Float()
	}
}

// escapePath escapes a key for use as one gjson/sjson path segment.
func escapePath(key string) string {
	var b strings.Builder

	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}

	return b.String()
}
