// Package metric holds the schema independent metric model shared by both
// Sparkplug payload generations, and the registry of metrics an entity is
// allowed to report.
package metric

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownDataType = errors.New("unknown data type")
	ErrTypeMismatch    = errors.New("value does not match data type")
	ErrEmptyName       = errors.New("metric name is empty")
	ErrDuplicateMetric = errors.New("duplicate known metric")
	ErrUnknownMetric   = errors.New("metric is not registered")
)

// MetaData is the optional Sparkplug B metric metadata.
type MetaData struct {
	ContentType string
	Description string
}

// Metric is a named, typed, timestamped value.
//
// Metrics are values: the With* helpers return a modified copy and never
// change the receiver.
type Metric struct {
	Name         string
	DataType     DataType
	Value        interface{}
	Timestamp    time.Time
	Alias        *uint64
	IsHistorical bool
	IsTransient  bool
	IsNull       bool
	MetaData     *MetaData
}

// New creates a metric. A nil value yields a null metric.
func New(name string, dataType DataType, value interface{}) Metric {
	return Metric{
		Name:     name,
		DataType: dataType,
		Value:    value,
		IsNull:   value == nil,
	}
}

// Clone returns a copy of m whose alias, metadata and byte, dataset or
// template value are not shared with m.
func (m Metric) Clone() Metric {
	if m.Alias != nil {
		alias := *m.Alias
		m.Alias = &alias
	}

	if m.MetaData != nil {
		md := *m.MetaData
		m.MetaData = &md
	}

	m.Value = cloneValue(m.Value)
	return m
}

func (m Metric) WithValue(value interface{}) Metric {
	m.Value = value
	m.IsNull = value == nil
	return m
}

func (m Metric) WithTimestamp(ts time.Time) Metric {
	m.Timestamp = ts
	return m
}

func (m Metric) WithAlias(alias uint64) Metric {
	m.Alias = &alias
	return m
}

func (m Metric) WithMetaData(md MetaData) Metric {
	m.MetaData = &md
	return m
}

func (m Metric) Historical() Metric {
	m.IsHistorical = true
	return m
}

func (m Metric) Transient() Metric {
	m.IsTransient = true
	return m
}

// Validate checks that the metric has a name, a known data type and a value
// whose Go type matches that data type.
func (m Metric) Validate() error {
	if m.Name == "" {
		return ErrEmptyName
	}

	if !m.DataType.Valid() {
		return fmt.Errorf("metric %q: %w", m.Name, ErrUnknownDataType)
	}

	if m.IsNull || m.Value == nil {
		return nil
	}

	if err := CheckValue(m.DataType, m.Value); err != nil {
		return fmt.Errorf("metric %q: %w", m.Name, err)
	}

	return nil
}

// CheckValue returns ErrTypeMismatch unless v has the Go type used for dt.
func CheckValue(dt DataType, v interface{}) error {
	ok := false

	switch dt {
	case Int8:
		_, ok = v.(int8)
	case Int16:
		_, ok = v.(int16)
	case Int32:
		_, ok = v.(int32)
	case Int64:
		_, ok = v.(int64)
	case UInt8:
		_, ok = v.(uint8)
	case UInt16:
		_, ok = v.(uint16)
	case UInt32:
		_, ok = v.(uint32)
	case UInt64:
		_, ok = v.(uint64)
	case Float:
		_, ok = v.(float32)
	case Double:
		_, ok = v.(float64)
	case Boolean:
		_, ok = v.(bool)
	case String, Text, UUID:
		_, ok = v.(string)
	case DateTime:
		_, ok = v.(time.Time)
	case Bytes, File:
		_, ok = v.([]byte)
	case DataSet:
		var ds *DataSetValue
		ds, ok = v.(*DataSetValue)
		if ok && ds != nil {
			return ds.Validate()
		}
	case Template:
		var t *TemplateValue
		t, ok = v.(*TemplateValue)
		if ok && t != nil {
			return t.Validate()
		}
	default:
		return ErrUnknownDataType
	}

	if !ok {
		return fmt.Errorf("%s got %T: %w", dt, v, ErrTypeMismatch)
	}

	return nil
}
