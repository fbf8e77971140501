package payload

import (
	"fmt"
	"time"

	"github.com/weekaung/sparkplugb-client/sproto"
	"google.golang.org/protobuf/proto"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/protocol"
)

// VersionB is the Sparkplug B protobuf codec.
type VersionB struct{}

var _ Codec = VersionB{}

func (VersionB) Namespace() protocol.Namespace {
	return protocol.NamespaceB
}

func (VersionB) Encode(p *Payload) ([]byte, error) {
	const op = "payload.VersionB.Encode"

	wire := &sproto.Payload{
		Seq:  p.Seq,
		Body: p.Body,
	}

	if !p.Timestamp.IsZero() {
		wire.Timestamp = proto.Uint64(toMillis(p.Timestamp))
	}

	if p.UUID != "" {
		wire.Uuid = proto.String(p.UUID)
	}

	metrics, err := encodeMetricsB(p.Metrics)
	if err != nil {
		return nil, pkgerrors.Codec(op, pkgerrors.Conversion(op, err))
	}
	wire.Metrics = metrics

	data, err := proto.Marshal(wire)
	if err != nil {
		return nil, pkgerrors.Codec(op, err)
	}

	return data, nil
}

func (VersionB) Decode(data []byte) (*Decoded, error) {
	const op = "payload.VersionB.Decode"

	var wire sproto.Payload
	if err := proto.Unmarshal(data, &wire); err != nil {
		return nil, pkgerrors.Codec(op, fmt.Errorf("%v: %w", err, ErrMalformed))
	}

	d := &Decoded{
		Seq:  wire.Seq,
		UUID: wire.GetUuid(),
		Body: wire.GetBody(),
	}

	if wire.Timestamp != nil {
		d.Timestamp = fromMillis(wire.GetTimestamp())
	}

	d.Conversions = make([]Conversion, len(wire.Metrics))
	for i, wm := range wire.Metrics {
		c := Conversion{Index: i, Name: wm.GetName()}

		m, err := decodeMetricB(wm, d.Timestamp)
		if err != nil {
			c.Err = conversionError("payload.VersionB.Decode", c.Name, err)
		} else {
			c.Metric = m
		}

		d.Conversions[i] = c
	}

	return d, nil
}

func encodeMetricsB(metrics []metric.Metric) ([]*sproto.Payload_Metric, error) {
	out := make([]*sproto.Payload_Metric, 0, len(metrics))

	for _, m := range metrics {
		wm, err := encodeMetricB(m)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", m.Name, err)
		}

		out = append(out, wm)
	}

	return out, nil
}

func encodeMetricB(m metric.Metric) (*sproto.Payload_Metric, error) {
	if !m.DataType.Valid() {
		return nil, metric.ErrUnknownDataType
	}

	wm := &sproto.Payload_Metric{
		Alias:    m.Alias,
		Datatype: proto.Uint32(uint32(m.DataType)),
	}

	if m.Name != "" {
		wm.Name = proto.String(m.Name)
	}

	if !m.Timestamp.IsZero() {
		wm.Timestamp = proto.Uint64(toMillis(m.Timestamp))
	}

	if m.IsHistorical {
		wm.IsHistorical = proto.Bool(true)
	}

	if m.IsTransient {
		wm.IsTransient = proto.Bool(true)
	}

	if m.MetaData != nil {
		wm.Metadata = &sproto.Payload_MetaData{}
		if m.MetaData.ContentType != "" {
			wm.Metadata.ContentType = proto.String(m.MetaData.ContentType)
		}
		if m.MetaData.Description != "" {
			wm.Metadata.Description = proto.String(m.MetaData.Description)
		}
	}

	if m.IsNull || m.Value == nil {
		wm.IsNull = proto.Bool(true)
		return wm, nil
	}

	switch m.DataType {
	case metric.DataSet:
		if err := metric.CheckValue(m.DataType, m.Value); err != nil {
			return nil, err
		}

		ds, err := encodeDataSetB(m.Value.(*metric.DataSetValue))
		if err != nil {
			return nil, err
		}

		wm.Value = &sproto.Payload_Metric_DatasetValue{DatasetValue: ds}
		return wm, nil
	case metric.Template:
		if err := metric.CheckValue(m.DataType, m.Value); err != nil {
			return nil, err
		}

		t, err := encodeTemplateB(m.Value.(*metric.TemplateValue))
		if err != nil {
			return nil, err
		}

		wm.Value = &sproto.Payload_Metric_TemplateValue{TemplateValue: t}
		return wm, nil
	}

	s, err := encodeScalar(m.DataType, m.Value)
	if err != nil {
		return nil, err
	}

	switch s.kind {
	case wireInt:
		wm.Value = &sproto.Payload_Metric_IntValue{IntValue: s.u32}
	case wireLong:
		wm.Value = &sproto.Payload_Metric_LongValue{LongValue: s.u64}
	case wireFloat:
		wm.Value = &sproto.Payload_Metric_FloatValue{FloatValue: s.f32}
	case wireDouble:
		wm.Value = &sproto.Payload_Metric_DoubleValue{DoubleValue: s.f64}
	case wireBool:
		wm.Value = &sproto.Payload_Metric_BooleanValue{BooleanValue: s.b}
	case wireString:
		wm.Value = &sproto.Payload_Metric_StringValue{StringValue: s.s}
	case wireBytes:
		wm.Value = &sproto.Payload_Metric_BytesValue{BytesValue: s.raw}
	}

	return wm, nil
}

func encodeDataSetB(ds *metric.DataSetValue) (*sproto.Payload_DataSet, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	wire := &sproto.Payload_DataSet{
		NumOfColumns: proto.Uint64(uint64(len(ds.Columns))),
		Columns:      ds.Columns,
		Types:        make([]uint32, len(ds.Types)),
		Rows:         make([]*sproto.Payload_DataSet_Row, 0, len(ds.Rows)),
	}

	for i, t := range ds.Types {
		if wireKindFor(t) == wireNone || wireKindFor(t) == wireBytes {
			return nil, fmt.Errorf("dataset column %q is %s: %w", ds.Columns[i], t, ErrUnsupportedType)
		}
		wire.Types[i] = uint32(t)
	}

	for _, row := range ds.Rows {
		wr := &sproto.Payload_DataSet_Row{
			Elements: make([]*sproto.Payload_DataSet_DataSetValue, len(row)),
		}

		for j, v := range row {
			cell := &sproto.Payload_DataSet_DataSetValue{}
			wr.Elements[j] = cell

			if v == nil {
				continue
			}

			s, err := encodeScalar(ds.Types[j], v)
			if err != nil {
				return nil, fmt.Errorf("dataset column %q: %w", ds.Columns[j], err)
			}

			switch s.kind {
			case wireInt:
				cell.Value = &sproto.Payload_DataSet_DataSetValue_IntValue{IntValue: s.u32}
			case wireLong:
				cell.Value = &sproto.Payload_DataSet_DataSetValue_LongValue{LongValue: s.u64}
			case wireFloat:
				cell.Value = &sproto.Payload_DataSet_DataSetValue_FloatValue{FloatValue: s.f32}
			case wireDouble:
				cell.Value = &sproto.Payload_DataSet_DataSetValue_DoubleValue{DoubleValue: s.f64}
			case wireBool:
				cell.Value = &sproto.Payload_DataSet_DataSetValue_BooleanValue{BooleanValue: s.b}
			case wireString:
				cell.Value = &sproto.Payload_DataSet_DataSetValue_StringValue{StringValue: s.s}
			}
		}

		wire.Rows = append(wire.Rows, wr)
	}

	return wire, nil
}

func encodeTemplateB(t *metric.TemplateValue) (*sproto.Payload_Template, error) {
	members, err := encodeMetricsB(t.Metrics)
	if err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}

	wire := &sproto.Payload_Template{
		Metrics:      members,
		IsDefinition: proto.Bool(t.IsDefinition),
	}

	if t.Version != "" {
		wire.Version = proto.String(t.Version)
	}

	if t.TemplateRef != "" {
		wire.TemplateRef = proto.String(t.TemplateRef)
	}

	return wire, nil
}

func decodeMetricB(wm *sproto.Payload_Metric, payloadTime time.Time) (metric.Metric, error) {
	m := metric.Metric{
		Name:         wm.GetName(),
		Alias:        wm.Alias,
		IsHistorical: wm.GetIsHistorical(),
		IsTransient:  wm.GetIsTransient(),
		IsNull:       wm.GetIsNull(),
		Timestamp:    payloadTime,
	}

	if wm.Timestamp != nil {
		m.Timestamp = fromMillis(wm.GetTimestamp())
	}

	if md := wm.GetMetadata(); md != nil {
		m.MetaData = &metric.MetaData{
			ContentType: md.GetContentType(),
			Description: md.GetDescription(),
		}
	}

	if wm.Datatype != nil {
		m.DataType = metric.DataType(wm.GetDatatype())
		if !m.DataType.Valid() {
			return m, fmt.Errorf("data type %d: %w", wm.GetDatatype(), metric.ErrUnknownDataType)
		}
	} else {
		// data messages may omit the type when it is known from the birth
		m.DataType = inferDataTypeB(wm)
		if m.DataType == metric.Unknown && !m.IsNull {
			return m, metric.ErrUnknownDataType
		}
	}

	if m.IsNull {
		return m, nil
	}

	switch v := wm.Value.(type) {
	case *sproto.Payload_Metric_DatasetValue:
		if m.DataType != metric.DataSet {
			return m, fmt.Errorf("%s carried as dataset: %w", m.DataType, metric.ErrTypeMismatch)
		}

		ds, err := decodeDataSetB(v.DatasetValue)
		if err != nil {
			return m, err
		}
		m.Value = ds
		return m, nil
	case *sproto.Payload_Metric_TemplateValue:
		if m.DataType != metric.Template {
			return m, fmt.Errorf("%s carried as template: %w", m.DataType, metric.ErrTypeMismatch)
		}

		t, err := decodeTemplateB(v.TemplateValue, payloadTime)
		if err != nil {
			return m, err
		}
		m.Value = t
		return m, nil
	}

	if m.DataType == metric.DataSet || m.DataType == metric.Template {
		if wm.Value == nil {
			return m, ErrMissingValue
		}
		return m, fmt.Errorf("%s carried as %s: %w", m.DataType, metricScalarB(wm).kind, metric.ErrTypeMismatch)
	}

	value, err := decodeScalar(m.DataType, metricScalarB(wm))
	if err != nil {
		return m, err
	}
	m.Value = value

	return m, nil
}

func metricScalarB(wm *sproto.Payload_Metric) scalar {
	switch v := wm.Value.(type) {
	case *sproto.Payload_Metric_IntValue:
		return scalar{kind: wireInt, u32: v.IntValue}
	case *sproto.Payload_Metric_LongValue:
		return scalar{kind: wireLong, u64: v.LongValue}
	case *sproto.Payload_Metric_FloatValue:
		return scalar{kind: wireFloat, f32: v.FloatValue}
	case *sproto.Payload_Metric_DoubleValue:
		return scalar{kind: wireDouble, f64: v.DoubleValue}
	case *sproto.Payload_Metric_BooleanValue:
		return scalar{kind: wireBool, b: v.BooleanValue}
	case *sproto.Payload_Metric_StringValue:
		return scalar{kind: wireString, s: v.StringValue}
	case *sproto.Payload_Metric_BytesValue:
		return scalar{kind: wireBytes, raw: v.BytesValue}
	default:
		return scalar{}
	}
}

// inferDataTypeB picks the widest signed type of the slot a metric without a
// declared type arrived in.
func inferDataTypeB(wm *sproto.Payload_Metric) metric.DataType {
	switch wm.Value.(type) {
	case *sproto.Payload_Metric_IntValue:
		return metric.Int32
	case *sproto.Payload_Metric_LongValue:
		return metric.Int64
	case *sproto.Payload_Metric_FloatValue:
		return metric.Float
	case *sproto.Payload_Metric_DoubleValue:
		return metric.Double
	case *sproto.Payload_Metric_BooleanValue:
		return metric.Boolean
	case *sproto.Payload_Metric_StringValue:
		return metric.String
	case *sproto.Payload_Metric_BytesValue:
		return metric.Bytes
	case *sproto.Payload_Metric_DatasetValue:
		return metric.DataSet
	case *sproto.Payload_Metric_TemplateValue:
		return metric.Template
	default:
		return metric.Unknown
	}
}

func decodeDataSetB(wire *sproto.Payload_DataSet) (*metric.DataSetValue, error) {
	if wire == nil {
		return nil, ErrMissingValue
	}

	if len(wire.Columns) != len(wire.Types) {
		return nil, fmt.Errorf("dataset has %d columns and %d types: %w",
			len(wire.Columns), len(wire.Types), ErrMalformed)
	}

	ds := &metric.DataSetValue{
		Columns: wire.Columns,
		Types:   make([]metric.DataType, len(wire.Types)),
		Rows:    make([][]interface{}, 0, len(wire.Rows)),
	}

	for i, t := range wire.Types {
		ds.Types[i] = metric.DataType(t)
		if !ds.Types[i].Valid() {
			return nil, fmt.Errorf("dataset column %q type %d: %w", wire.Columns[i], t, metric.ErrUnknownDataType)
		}
	}

	for i, wr := range wire.Rows {
		if len(wr.Elements) != len(ds.Columns) {
			return nil, fmt.Errorf("dataset row %d has %d values, want %d: %w",
				i, len(wr.Elements), len(ds.Columns), ErrMalformed)
		}

		row := make([]interface{}, len(wr.Elements))
		for j, cell := range wr.Elements {
			s := cellScalarB(cell)
			if s.kind == wireNone {
				continue
			}

			v, err := decodeScalar(ds.Types[j], s)
			if err != nil {
				return nil, fmt.Errorf("dataset row %d column %q: %w", i, ds.Columns[j], err)
			}
			row[j] = v
		}

		ds.Rows = append(ds.Rows, row)
	}

	return ds, nil
}

func cellScalarB(cell *sproto.Payload_DataSet_DataSetValue) scalar {
	if cell == nil {
		return scalar{}
	}

	switch v := cell.Value.(type) {
	case *sproto.Payload_DataSet_DataSetValue_IntValue:
		return scalar{kind: wireInt, u32: v.IntValue}
	case *sproto.Payload_DataSet_DataSetValue_LongValue:
		return scalar{kind: wireLong, u64: v.LongValue}
	case *sproto.Payload_DataSet_DataSetValue_FloatValue:
		return scalar{kind: wireFloat, f32: v.FloatValue}
	case *sproto.Payload_DataSet_DataSetValue_DoubleValue:
		return scalar{kind: wireDouble, f64: v.DoubleValue}
	case *sproto.Payload_DataSet_DataSetValue_BooleanValue:
		return scalar{kind: wireBool, b: v.BooleanValue}
	case *sproto.Payload_DataSet_DataSetValue_StringValue:
		return scalar{kind: wireString, s: v.StringValue}
	default:
		return scalar{}
	}
}

func decodeTemplateB(wire *sproto.Payload_Template, payloadTime time.Time) (*metric.TemplateValue, error) {
	if wire == nil {
		return nil, ErrMissingValue
	}

	t := &metric.TemplateValue{
		Version:      wire.GetVersion(),
		TemplateRef:  wire.GetTemplateRef(),
		IsDefinition: wire.GetIsDefinition(),
		Metrics:      make([]metric.Metric, 0, len(wire.Metrics)),
	}

	for _, wm := range wire.Metrics {
		m, err := decodeMetricB(wm, payloadTime)
		if err != nil {
			return nil, fmt.Errorf("template member %q: %w", wm.GetName(), err)
		}
		t.Metrics = append(t.Metrics, m)
	}

	return t, nil
}
