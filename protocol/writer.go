package protocol

import (
	"fmt"
	"strings"

	pkgerrors "github.com/luma/sparkplug/errors"
)

// Topic is the structured form of a Sparkplug topic.
//
// For host application STATE topics GroupID is empty and EdgeNodeID holds
// the host id. A zero Namespace on such a topic selects the Sparkplug 2.2
// form without a namespace segment.
type Topic struct {
	Namespace   Namespace
	GroupID     string
	MessageType MessageType
	EdgeNodeID  string
	DeviceID    string
}

func NodeTopic(ns Namespace, groupID string, mt MessageType, edgeNodeID string) Topic {
	return Topic{Namespace: ns, GroupID: groupID, MessageType: mt, EdgeNodeID: edgeNodeID}
}

func DeviceTopic(ns Namespace, groupID string, mt MessageType, edgeNodeID, deviceID string) Topic {
	return Topic{Namespace: ns, GroupID: groupID, MessageType: mt, EdgeNodeID: edgeNodeID, DeviceID: deviceID}
}

// HostStateTopic is the topic a host application announces itself on.
func HostStateTopic(version SpecificationVersion, ns Namespace, hostID string) Topic {
	if version == Version22 {
		return Topic{MessageType: STATE, EdgeNodeID: hostID}
	}

	return Topic{Namespace: ns, MessageType: STATE, EdgeNodeID: hostID}
}

// IsHostState returns true for host application STATE topics.
func (t Topic) IsHostState() bool {
	return t.MessageType == STATE && t.GroupID == ""
}

// String joins the topic segments. ParseTopic(t.String()) == t for every
// topic that passes Validate.
func (t Topic) String() string {
	if t.IsHostState() {
		if t.Namespace == 0 {
			return string(STATE) + Delimiter + t.EdgeNodeID
		}

		return strings.Join([]string{t.Namespace.Token(), string(STATE), t.EdgeNodeID}, Delimiter)
	}

	parts := []string{t.Namespace.Token(), t.GroupID, string(t.MessageType), t.EdgeNodeID}
	if t.DeviceID != "" {
		parts = append(parts, t.DeviceID)
	}

	return strings.Join(parts, Delimiter)
}

// Validate checks that the topic can be published.
func (t Topic) Validate() error {
	if !t.MessageType.Known() {
		return pkgerrors.Topic("protocol.Topic.Validate",
			fmt.Errorf("%w '%s'", ErrUnknownMessageType, t.MessageType))
	}

	if err := ValidateID(t.EdgeNodeID); err != nil {
		return pkgerrors.Topic("protocol.Topic.Validate", err)
	}

	if t.IsHostState() {
		return nil
	}

	if !t.Namespace.Valid() {
		return pkgerrors.Topic("protocol.Topic.Validate", ErrNamespace)
	}

	if err := ValidateID(t.GroupID); err != nil {
		return pkgerrors.Topic("protocol.Topic.Validate", err)
	}

	switch {
	case t.MessageType.DeviceScoped() && t.DeviceID == "":
		return pkgerrors.Topic("protocol.Topic.Validate", ErrDeviceRequired)

	case !t.MessageType.DeviceScoped() && t.DeviceID != "":
		return pkgerrors.Topic("protocol.Topic.Validate", ErrDeviceNotAllowed)

	case t.DeviceID != "":
		if err := ValidateID(t.DeviceID); err != nil {
			return pkgerrors.Topic("protocol.Topic.Validate", err)
		}
	}

	return nil
}

// ValidateID checks a group, edge node, device or host id.
func ValidateID(id string) error {
	if id == "" || strings.ContainsAny(id, "/+#") {
		return fmt.Errorf("'%s': %w", id, ErrInvalidID)
	}

	return nil
}

// NamespaceFilter subscribes to every message in a namespace.
func NamespaceFilter(ns Namespace) string {
	return ns.Token() + "/#"
}

// GroupFilter subscribes to every message of one group.
func GroupFilter(ns Namespace, groupID string) string {
	return strings.Join([]string{ns.Token(), groupID, "#"}, Delimiter)
}

// NodeCommandFilter subscribes to the commands for one edge node.
func NodeCommandFilter(ns Namespace, groupID, edgeNodeID string) string {
	return NodeTopic(ns, groupID, NCMD, edgeNodeID).String()
}

// DeviceCommandFilter subscribes to the commands for every device of one
// edge node.
func DeviceCommandFilter(ns Namespace, groupID, edgeNodeID string) string {
	return DeviceTopic(ns, groupID, DCMD, edgeNodeID, "+").String()
}
