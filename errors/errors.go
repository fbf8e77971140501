// Package errors classifies the failures the Sparkplug engine can report.
//
// Every error that crosses a package boundary carries one of five kinds:
// configuration, codec, conversion, topic or transport. Callers test for a
// kind with the standard library:
//
//	if errors.Is(err, pkgerrors.ErrCodec) {
//	    // inbound payload was dropped
//	}
//
// The wrapped cause stays reachable through errors.Is / errors.As, so package
// level sentinels (metric.ErrDuplicateMetric, protocol.ErrSegmentCount, ...)
// can be matched as well.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the classification of an engine error.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindConfiguration covers caller mistakes detected before any I/O:
	// missing group or edge node ids, duplicate known metrics.
	KindConfiguration
	// KindCodec covers malformed payload bytes and unsupported wire variants.
	KindCodec
	// KindConversion covers a metric value that does not fit its data type.
	KindConversion
	// KindTopic covers malformed topic strings.
	KindTopic
	// KindTransport covers connect, publish and subscribe failures.
	KindTransport
)

// Class sentinels. Match them with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrCodec         = errors.New("codec error")
	ErrConversion    = errors.New("conversion error")
	ErrTopic         = errors.New("topic error")
	ErrTransport     = errors.New("transport error")
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindCodec:
		return "codec"
	case KindConversion:
		return "conversion"
	case KindTopic:
		return "topic"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindCodec:
		return ErrCodec
	case KindConversion:
		return ErrConversion
	case KindTopic:
		return ErrTopic
	case KindTransport:
		return ErrTransport
	default:
		return nil
	}
}

// Error is a classified error. Op names the operation that failed, in the
// "package.Method" form.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}

	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the class sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// E wraps err with a kind and an operation name. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Op: op, Err: err}
}

func Configuration(op string, err error) error { return E(KindConfiguration, op, err) }
func Codec(op string, err error) error         { return E(KindCodec, op, err) }
func Conversion(op string, err error) error    { return E(KindConversion, op, err) }
func Topic(op string, err error) error         { return E(KindTopic, op, err) }
func Transport(op string, err error) error     { return E(KindTransport, op, err) }

// KindOf returns the kind of the outermost classified error in err's chain.
// Errors of other types that match a class sentinel through errors.Is are
// classified too.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	for _, k := range []Kind{KindConfiguration, KindCodec, KindConversion, KindTopic, KindTransport} {
		if errors.Is(err, k.sentinel()) {
			return k
		}
	}

	return KindUnknown
}
