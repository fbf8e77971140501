package application

import (
	"context"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/message"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/protocol"
)

// PublishNodeCommand sends an NCMD writing metrics of an edge node. A
// command that does not encode draws no sequence number; one that fails to
// send ends the session.
func (a *Application) PublishNodeCommand(ctx context.Context, target message.Identity, metrics []metric.Metric) error {
	a.publishMu.Lock()
	defer a.publishMu.Unlock()

	if !a.state.IsConnected() {
		return pkgerrors.Transport("application.PublishNodeCommand", ErrNotConnected)
	}

	msg, err := a.generator.NodeCommand(target, metrics, a.state.PeekSequence())
	if err != nil {
		return err
	}
	a.state.NextSequence()

	return a.publish(ctx, msg)
}

// PublishDeviceCommand sends a DCMD writing metrics of a device.
func (a *Application) PublishDeviceCommand(ctx context.Context, target message.Identity, metrics []metric.Metric) error {
	a.publishMu.Lock()
	defer a.publishMu.Unlock()

	if !a.state.IsConnected() {
		return pkgerrors.Transport("application.PublishDeviceCommand", ErrNotConnected)
	}

	msg, err := a.generator.DeviceCommand(target, metrics, a.state.PeekSequence())
	if err != nil {
		return err
	}
	a.state.NextSequence()

	return a.publish(ctx, msg)
}

// RequestRebirth asks an edge node to publish its births again.
func (a *Application) RequestRebirth(ctx context.Context, target message.Identity) error {
	a.telemetry.Rebirth()

	return a.PublishNodeCommand(ctx, target.Node(), []metric.Metric{
		metric.New(protocol.MetricNodeRebirth, metric.Boolean, true),
	})
}
