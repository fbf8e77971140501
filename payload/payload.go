// Package payload encodes and decodes the two Sparkplug payload generations
// and converts them to and from the schema independent metric model.
//
// The codec is picked explicitly from the entity's namespace with
// ForNamespace. Decoding never coerces: a metric whose wire value does not
// fit its declared data type becomes a failed Conversion, and the rest of
// the payload is still usable.
package payload

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/protocol"
)

var (
	ErrMalformed            = errors.New("payload is malformed")
	ErrUnsupportedNamespace = errors.New("unsupported namespace")
	ErrUnsupportedType      = errors.New("data type is not supported by this payload format")
	ErrMissingValue         = errors.New("metric has no value")
	ErrOutOfRange           = errors.New("value is out of range for the data type")
)

// Payload is the schema independent content of a Sparkplug message.
type Payload struct {
	Timestamp time.Time
	Seq       *uint64
	UUID      string
	Body      []byte
	Metrics   []metric.Metric
}

// Conversion is the outcome of converting one wire metric.
type Conversion struct {
	// Index of the metric in the wire payload
	Index int
	// Name as found on the wire, even when the conversion failed
	Name   string
	Metric metric.Metric
	Err    error
}

func (c Conversion) OK() bool {
	return c.Err == nil
}

// Decoded is a payload read from the wire.
type Decoded struct {
	Timestamp   time.Time
	Seq         *uint64
	UUID        string
	Body        []byte
	Conversions []Conversion
}

// Metrics returns the successfully converted metrics in wire order.
func (d *Decoded) Metrics() []metric.Metric {
	out := make([]metric.Metric, 0, len(d.Conversions))

	for _, c := range d.Conversions {
		if c.OK() {
			out = append(out, c.Metric)
		}
	}

	return out
}

// Failed returns the conversions that did not succeed.
func (d *Decoded) Failed() []Conversion {
	var out []Conversion

	for _, c := range d.Conversions {
		if !c.OK() {
			out = append(out, c)
		}
	}

	return out
}

// Err combines every per metric conversion error. It is nil when all metrics
// converted.
func (d *Decoded) Err() (err error) {
	for _, c := range d.Conversions {
		err = multierr.Append(err, c.Err)
	}

	return err
}

// Codec is the wire format of one namespace.
type Codec interface {
	Namespace() protocol.Namespace
	Encode(p *Payload) ([]byte, error)
	Decode(data []byte) (*Decoded, error)
}

// ForNamespace returns the codec for a namespace.
func ForNamespace(ns protocol.Namespace) (Codec, error) {
	switch ns {
	case protocol.NamespaceA:
		return VersionA{}, nil
	case protocol.NamespaceB:
		return VersionB{}, nil
	default:
		return nil, pkgerrors.Codec("payload.ForNamespace",
			fmt.Errorf("%s: %w", ns, ErrUnsupportedNamespace))
	}
}

func conversionError(op string, name string, err error) error {
	return pkgerrors.Conversion(op, fmt.Errorf("metric %q: %w", name, err))
}

func toMillis(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}

func fromMillis(ms uint64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}
