package node

import (
	"context"

	"go.uber.org/zap"

	"github.com/luma/sparkplug/dispatch"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/protocol"
)

// handleNodeCommand answers rebirth requests, then passes the command on.
// It runs on the transport's delivery goroutine, never under publishMu.
func (n *Node) handleNodeCommand(ctx context.Context, msg *dispatch.Message) error {
	if requested(msg.Metrics, protocol.MetricNodeRebirth) {
		if err := n.Rebirth(ctx); err != nil {
			return err
		}
	}

	if requested(msg.Metrics, protocol.MetricNodeNextServer) {
		n.log.Info("Next server requested")
	}

	n.handlersMu.RLock()
	h := n.onNodeCommand
	n.handlersMu.RUnlock()

	if h == nil {
		return nil
	}

	return h(ctx, msg)
}

func (n *Node) handleDeviceCommand(ctx context.Context, msg *dispatch.Message) error {
	if _, err := n.device(msg.DeviceID()); err != nil {
		n.log.Warn("Command for unknown device", zap.String("device", msg.DeviceID()))
		return err
	}

	if requested(msg.Metrics, protocol.MetricDeviceRebirth) {
		if err := n.RebirthDevice(ctx, msg.DeviceID()); err != nil {
			return err
		}
	}

	n.handlersMu.RLock()
	h := n.onDeviceCommand
	n.handlersMu.RUnlock()

	if h == nil {
		return nil
	}

	return h(ctx, msg)
}

// requested is true when metrics hold a boolean control metric set to true.
func requested(metrics []metric.Metric, name string) bool {
	for _, m := range metrics {
		if m.Name != name || m.IsNull {
			continue
		}

		if v, ok := m.Value.(bool); ok && v {
			return true
		}
	}

	return false
}
