package node

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/message"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/storage"
)

// AddDevice registers a device with its own known metrics. A connected node
// publishes the device birth straight away; otherwise it is born with the
// node on the next Connect.
func (n *Node) AddDevice(ctx context.Context, deviceID string, known []metric.Metric) error {
	const op = "node.AddDevice"

	id := n.id.Device(deviceID)
	if err := id.Validate(); err != nil {
		return err
	}

	if err := n.generator.ValidateKnown(known); err != nil {
		return err
	}

	registry, err := metric.NewRegistry(known...)
	if err != nil {
		return err
	}

	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	n.devicesMu.Lock()
	if _, ok := n.devices[deviceID]; ok {
		n.devicesMu.Unlock()
		return pkgerrors.Configuration(op, fmt.Errorf("'%s': %w", deviceID, ErrDuplicateDevice))
	}

	d := &device{id: id, known: registry}
	n.devices[deviceID] = d
	n.order = append(n.order, deviceID)
	n.devicesMu.Unlock()

	n.log.Info("Added device", zap.String("device", deviceID))

	if !n.state.IsConnected() {
		return nil
	}

	return n.deviceBirth(ctx, d)
}

// RemoveDevice publishes the device death when connected and forgets the
// device and its stored values.
func (n *Node) RemoveDevice(ctx context.Context, deviceID string) error {
	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	d, err := n.device(deviceID)
	if err != nil {
		return err
	}

	if n.state.IsConnected() {
		msg, err := n.next(func(seq uint8) (*message.Message, error) {
			return n.generator.DeviceDeath(d.id, seq)
		})
		if err != nil {
			return err
		}

		if err = n.publish(ctx, msg); err != nil {
			return err
		}
	}

	n.devicesMu.Lock()
	delete(n.devices, deviceID)
	for i, id := range n.order {
		if id == deviceID {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	n.devicesMu.Unlock()

	if n.store != nil {
		if err = n.store.Delete(ctx, deviceScope(d)); err != nil {
			n.log.Warn("Failed to delete stored device values", zap.String("device", deviceID), zap.Error(err))
		}
	}

	n.log.Info("Removed device", zap.String("device", deviceID))

	return nil
}

// PublishDeviceMetrics publishes a DDATA with the device's known metrics of
// batch. Devices share the node's sequence, which is drawn the same way as
// in PublishMetrics.
func (n *Node) PublishDeviceMetrics(ctx context.Context, deviceID string, batch []metric.Metric) (uint8, error) {
	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	d, err := n.device(deviceID)
	if err != nil {
		return 0, err
	}

	if err = n.checkPublish(d.known, batch); err != nil {
		return 0, err
	}

	var seq uint8
	msg, err := n.next(func(next uint8) (*message.Message, error) {
		seq = next
		return n.generator.DeviceData(d.id, d.known, batch, seq)
	})
	if err != nil {
		return 0, err
	}

	if err = n.publish(ctx, msg); err != nil {
		return seq, err
	}

	n.remember(ctx, deviceScope(d), msg.Metrics)
	return seq, nil
}

// RebirthDevice publishes the device birth again within the current session.
func (n *Node) RebirthDevice(ctx context.Context, deviceID string) error {
	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	d, err := n.device(deviceID)
	if err != nil {
		return err
	}

	if !n.state.IsConnected() {
		return pkgerrors.Transport("node.RebirthDevice", ErrNotConnected)
	}

	n.telemetry.Rebirth()
	return n.deviceBirth(ctx, d)
}

// Devices returns the device ids in the order they were added.
func (n *Node) Devices() []string {
	n.devicesMu.RLock()
	defer n.devicesMu.RUnlock()

	return append([]string(nil), n.order...)
}

// DeviceKnownMetrics returns the known metric definitions of a device.
func (n *Node) DeviceKnownMetrics(deviceID string) ([]metric.Metric, error) {
	d, err := n.device(deviceID)
	if err != nil {
		return nil, err
	}

	return d.known.Values(), nil
}

func (n *Node) device(deviceID string) (*device, error) {
	n.devicesMu.RLock()
	defer n.devicesMu.RUnlock()

	d, ok := n.devices[deviceID]
	if !ok {
		return nil, pkgerrors.Configuration("node.device", fmt.Errorf("'%s': %w", deviceID, ErrUnknownDevice))
	}

	return d, nil
}

func (n *Node) deviceList() []*device {
	n.devicesMu.RLock()
	defer n.devicesMu.RUnlock()

	out := make([]*device, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.devices[id])
	}

	return out
}

func deviceScope(d *device) string {
	return storage.Scope(d.id.GroupID, d.id.EdgeNodeID, d.id.DeviceID)
}
