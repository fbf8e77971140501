package message

import (
	"errors"
	"fmt"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/protocol"
)

var (
	ErrMissingGroupID    = errors.New("group id is not set")
	ErrMissingEdgeNodeID = errors.New("edge node id is not set")
	ErrMissingDeviceID   = errors.New("device id is not set")
)

// Identity addresses a node, or a device when DeviceID is set.
type Identity struct {
	GroupID    string
	EdgeNodeID string
	DeviceID   string
}

// Device returns the identity of a device attached to this node.
func (id Identity) Device(deviceID string) Identity {
	id.DeviceID = deviceID
	return id
}

// Node returns the identity of the node this identity belongs to.
func (id Identity) Node() Identity {
	id.DeviceID = ""
	return id
}

func (id Identity) IsDevice() bool {
	return id.DeviceID != ""
}

// Validate reports a missing or malformed group or edge node id. The device
// id is only checked when set.
func (id Identity) Validate() error {
	const op = "message.Identity.Validate"

	if id.GroupID == "" {
		return pkgerrors.Configuration(op, ErrMissingGroupID)
	}

	if id.EdgeNodeID == "" {
		return pkgerrors.Configuration(op, ErrMissingEdgeNodeID)
	}

	for _, part := range []string{id.GroupID, id.EdgeNodeID, id.DeviceID} {
		if part == "" {
			continue
		}

		if err := protocol.ValidateID(part); err != nil {
			return pkgerrors.Configuration(op, err)
		}
	}

	return nil
}

func (id Identity) String() string {
	if id.DeviceID == "" {
		return fmt.Sprintf("%s/%s", id.GroupID, id.EdgeNodeID)
	}

	return fmt.Sprintf("%s/%s/%s", id.GroupID, id.EdgeNodeID, id.DeviceID)
}

func (id Identity) topic(ns protocol.Namespace, mt protocol.MessageType) protocol.Topic {
	if mt.DeviceScoped() {
		return protocol.DeviceTopic(ns, id.GroupID, mt, id.EdgeNodeID, id.DeviceID)
	}

	return protocol.NodeTopic(ns, id.GroupID, mt, id.EdgeNodeID)
}
