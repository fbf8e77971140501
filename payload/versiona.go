package payload

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/protocol"
)

// Field numbers of the Kura payload used by Sparkplug A.
const (
	fieldPayloadTimestamp protowire.Number = 1
	fieldPayloadMetric    protowire.Number = 5000
	fieldPayloadBody      protowire.Number = 5001

	fieldMetricName   protowire.Number = 1
	fieldMetricType   protowire.Number = 2
	fieldMetricDouble protowire.Number = 3
	fieldMetricFloat  protowire.Number = 4
	fieldMetricLong   protowire.Number = 5
	fieldMetricInt    protowire.Number = 6
	fieldMetricBool   protowire.Number = 7
	fieldMetricString protowire.Number = 8
	fieldMetricBytes  protowire.Number = 9
)

// kuraType is the value type enum of a Kura metric.
type kuraType uint64

const (
	kuraDouble kuraType = iota
	kuraFloat
	kuraInt64
	kuraInt32
	kuraBool
	kuraString
	kuraBytes
)

var kuraTypes = map[metric.DataType]kuraType{
	metric.Double:  kuraDouble,
	metric.Float:   kuraFloat,
	metric.Int64:   kuraInt64,
	metric.Int32:   kuraInt32,
	metric.Boolean: kuraBool,
	metric.String:  kuraString,
	metric.Bytes:   kuraBytes,
}

func (k kuraType) dataType() metric.DataType {
	for dt, kt := range kuraTypes {
		if kt == k {
			return dt
		}
	}

	return metric.Unknown
}

// VersionA is the legacy Sparkplug A codec. It carries the flat Kura metric
// list with seven value types. Kura has no sequence field, so the sequence
// travels as an Int64 metric named "seq" that Decode lifts back out.
type VersionA struct{}

var _ Codec = VersionA{}

func (VersionA) Namespace() protocol.Namespace {
	return protocol.NamespaceA
}

func (VersionA) Encode(p *Payload) ([]byte, error) {
	const op = "payload.VersionA.Encode"

	var b []byte

	if !p.Timestamp.IsZero() {
		b = protowire.AppendTag(b, fieldPayloadTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Timestamp.UnixMilli()))
	}

	metrics := p.Metrics
	if p.Seq != nil {
		metrics = append([]metric.Metric{
			metric.New(protocol.MetricSeq, metric.Int64, int64(*p.Seq)),
		}, metrics...)
	}

	for _, m := range metrics {
		mb, err := encodeMetricA(m)
		if err != nil {
			return nil, pkgerrors.Codec(op, conversionError(op, m.Name, err))
		}

		b = protowire.AppendTag(b, fieldPayloadMetric, protowire.BytesType)
		b = protowire.AppendBytes(b, mb)
	}

	if len(p.Body) > 0 {
		b = protowire.AppendTag(b, fieldPayloadBody, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Body)
	}

	return b, nil
}

func encodeMetricA(m metric.Metric) ([]byte, error) {
	if m.Name == "" {
		return nil, metric.ErrEmptyName
	}

	kt, ok := kuraTypes[m.DataType]
	if !ok {
		return nil, fmt.Errorf("%s: %w", m.DataType, ErrUnsupportedType)
	}

	var b []byte
	b = protowire.AppendTag(b, fieldMetricName, protowire.BytesType)
	b = protowire.AppendString(b, m.Name)
	b = protowire.AppendTag(b, fieldMetricType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(kt))

	// a null metric is a metric without a value field
	if m.IsNull || m.Value == nil {
		return b, nil
	}

	s, err := encodeScalar(m.DataType, m.Value)
	if err != nil {
		return nil, err
	}

	switch kt {
	case kuraDouble:
		b = protowire.AppendTag(b, fieldMetricDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(s.f64))
	case kuraFloat:
		b = protowire.AppendTag(b, fieldMetricFloat, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(s.f32))
	case kuraInt64:
		b = protowire.AppendTag(b, fieldMetricLong, protowire.VarintType)
		b = protowire.AppendVarint(b, s.u64)
	case kuraInt32:
		b = protowire.AppendTag(b, fieldMetricInt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(int32(s.u32))))
	case kuraBool:
		b = protowire.AppendTag(b, fieldMetricBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(s.b))
	case kuraString:
		b = protowire.AppendTag(b, fieldMetricString, protowire.BytesType)
		b = protowire.AppendString(b, s.s)
	case kuraBytes:
		b = protowire.AppendTag(b, fieldMetricBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, s.raw)
	}

	return b, nil
}

func (VersionA) Decode(data []byte) (*Decoded, error) {
	const op = "payload.VersionA.Decode"

	d := &Decoded{}
	index := 0

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, malformedA(op, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldPayloadTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, malformedA(op, protowire.ParseError(n))
			}
			d.Timestamp = fromMillis(v)
			data = data[n:]
		case num == fieldPayloadMetric && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, malformedA(op, protowire.ParseError(n))
			}
			data = data[n:]

			w, err := readMetricA(v)
			if err != nil {
				return nil, malformedA(op, err)
			}

			if w.name == protocol.MetricSeq && w.typ == kuraInt64 && w.set {
				seq := w.s.u64
				d.Seq = &seq
				continue
			}

			c := Conversion{Index: index, Name: w.name}
			index++

			m, err := w.toMetric()
			if err != nil {
				c.Err = conversionError(op, w.name, err)
			} else {
				c.Metric = m
			}

			d.Conversions = append(d.Conversions, c)
		case num == fieldPayloadBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, malformedA(op, protowire.ParseError(n))
			}
			d.Body = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, malformedA(op, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	for i := range d.Conversions {
		if d.Conversions[i].OK() && d.Conversions[i].Metric.Timestamp.IsZero() {
			d.Conversions[i].Metric.Timestamp = d.Timestamp
		}
	}

	return d, nil
}

// wireMetricA is a Kura metric as read, before type checking.
type wireMetricA struct {
	name    string
	typ     kuraType
	typeSet bool
	set     bool
	s       scalar
}

func readMetricA(data []byte) (wireMetricA, error) {
	var w wireMetricA

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return w, protowire.ParseError(n)
		}
		data = data[n:]

		var consumed int

		switch {
		case num == fieldMetricName && typ == protowire.BytesType:
			w.name, consumed = protowire.ConsumeString(data)
		case num == fieldMetricType && typ == protowire.VarintType:
			var v uint64
			v, consumed = protowire.ConsumeVarint(data)
			w.typ, w.typeSet = kuraType(v), true
		case num == fieldMetricDouble && typ == protowire.Fixed64Type:
			var v uint64
			v, consumed = protowire.ConsumeFixed64(data)
			w.s, w.set = scalar{kind: wireDouble, f64: math.Float64frombits(v)}, true
		case num == fieldMetricFloat && typ == protowire.Fixed32Type:
			var v uint32
			v, consumed = protowire.ConsumeFixed32(data)
			w.s, w.set = scalar{kind: wireFloat, f32: math.Float32frombits(v)}, true
		case num == fieldMetricLong && typ == protowire.VarintType:
			var v uint64
			v, consumed = protowire.ConsumeVarint(data)
			w.s, w.set = scalar{kind: wireLong, u64: v}, true
		case num == fieldMetricInt && typ == protowire.VarintType:
			var v uint64
			v, consumed = protowire.ConsumeVarint(data)
			w.s, w.set = scalar{kind: wireInt, u32: uint32(int32(v))}, true
		case num == fieldMetricBool && typ == protowire.VarintType:
			var v uint64
			v, consumed = protowire.ConsumeVarint(data)
			w.s, w.set = scalar{kind: wireBool, b: protowire.DecodeBool(v)}, true
		case num == fieldMetricString && typ == protowire.BytesType:
			var v string
			v, consumed = protowire.ConsumeString(data)
			w.s, w.set = scalar{kind: wireString, s: v}, true
		case num == fieldMetricBytes && typ == protowire.BytesType:
			var v []byte
			v, consumed = protowire.ConsumeBytes(data)
			w.s, w.set = scalar{kind: wireBytes, raw: append([]byte(nil), v...)}, true
		default:
			consumed = protowire.ConsumeFieldValue(num, typ, data)
		}

		if consumed < 0 {
			return w, protowire.ParseError(consumed)
		}
		data = data[consumed:]
	}

	return w, nil
}

func (w wireMetricA) toMetric() (metric.Metric, error) {
	m := metric.Metric{Name: w.name}

	if w.name == "" {
		return m, metric.ErrEmptyName
	}

	if !w.typeSet {
		return m, metric.ErrUnknownDataType
	}

	m.DataType = w.typ.dataType()
	if m.DataType == metric.Unknown {
		return m, fmt.Errorf("kura type %d: %w", w.typ, metric.ErrUnknownDataType)
	}

	if !w.set {
		m.IsNull = true
		return m, nil
	}

	v, err := decodeScalar(m.DataType, w.s)
	if err != nil {
		return m, err
	}
	m.Value = v

	return m, nil
}

func malformedA(op string, err error) error {
	return pkgerrors.Codec(op, fmt.Errorf("%v: %w", err, ErrMalformed))
}
