package protocol

import (
	"errors"
	"fmt"
	"strings"

	pkgerrors "github.com/luma/sparkplug/errors"
)

var (
	ErrNamespace          = errors.New("Topic does not start with a Sparkplug namespace")
	ErrSegmentCount       = errors.New("Topic has the wrong number of segments")
	ErrEmptySegment       = errors.New("Topic has an empty segment")
	ErrUnknownMessageType = errors.New("Unknown message type")
	ErrDeviceRequired     = errors.New("Device message type requires a device id segment")
	ErrDeviceNotAllowed   = errors.New("Node message type must not have a device id segment")
	ErrInvalidID          = errors.New("Topic ids must be non empty and must not contain '/', '+' or '#'")
)

// TopicError describes why a topic string could not be parsed. It matches
// pkgerrors.ErrTopic and unwraps to one of the ErrXxx sentinels above.
type TopicError struct {
	Raw string
	Err error
}

func (e *TopicError) Error() string {
	return fmt.Sprintf("Failed to parse topic '%s': %v", e.Raw, e.Err)
}

func (e *TopicError) Unwrap() error {
	return e.Err
}

func (e *TopicError) Is(target error) bool {
	return target == pkgerrors.ErrTopic
}

const Delimiter = "/"

// ParseTopic parses a Sparkplug topic string.
//
// Node scoped types need exactly 4 segments, device scoped types exactly 5.
// The host application STATE topics ("STATE/<host>" and "<ns>/STATE/<host>")
// are recognised too.
//
// When the message type token is not one this package knows, the returned
// Topic is still populated and the error wraps ErrUnknownMessageType, so
// callers can treat future message types as no-ops.
func ParseTopic(raw string) (Topic, error) {
	parts := strings.Split(raw, Delimiter)

	for _, p := range parts {
		if p == "" {
			return Topic{}, &TopicError{Raw: raw, Err: ErrEmptySegment}
		}
	}

	// Sparkplug 2.2 host state, no namespace segment
	if parts[0] == string(STATE) {
		if len(parts) != 2 {
			return Topic{}, &TopicError{Raw: raw, Err: ErrSegmentCount}
		}

		return Topic{MessageType: STATE, EdgeNodeID: parts[1]}, nil
	}

	ns, ok := namespaceFromToken(parts[0])
	if !ok {
		return Topic{}, &TopicError{Raw: raw, Err: ErrNamespace}
	}

	// Sparkplug 3.0 host state
	if len(parts) == 3 && parts[1] == string(STATE) {
		return Topic{Namespace: ns, MessageType: STATE, EdgeNodeID: parts[2]}, nil
	}

	if len(parts) < 4 || len(parts) > 5 {
		return Topic{}, &TopicError{Raw: raw, Err: ErrSegmentCount}
	}

	t := Topic{
		Namespace:   ns,
		GroupID:     parts[1],
		MessageType: MessageType(parts[2]),
		EdgeNodeID:  parts[3],
	}

	if len(parts) == 5 {
		t.DeviceID = parts[4]
	}

	if !t.MessageType.Known() {
		return t, &TopicError{Raw: raw, Err: fmt.Errorf("%w '%s'", ErrUnknownMessageType, parts[2])}
	}

	if t.MessageType.DeviceScoped() && t.DeviceID == "" {
		return Topic{}, &TopicError{Raw: raw, Err: ErrDeviceRequired}
	}

	if !t.MessageType.DeviceScoped() && t.DeviceID != "" {
		return Topic{}, &TopicError{Raw: raw, Err: ErrDeviceNotAllowed}
	}

	return t, nil
}
