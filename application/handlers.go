package application

import (
	"context"

	"go.uber.org/zap"

	"github.com/luma/sparkplug/dispatch"
	"github.com/luma/sparkplug/message"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/protocol"
	"github.com/luma/sparkplug/storage"
)

func identityOf(t protocol.Topic) message.Identity {
	return message.Identity{GroupID: t.GroupID, EdgeNodeID: t.EdgeNodeID, DeviceID: t.DeviceID}
}

func (a *Application) handleNodeBirth(ctx context.Context, msg *dispatch.Message) error {
	id := identityOf(msg.Topic)

	bdSeq, ok := sessionNumberOf(msg.Metrics)
	if !ok {
		a.log.Warn("Node birth without bdSeq", zap.Stringer("node", id))
	}

	a.tracker.nodeBirth(id, bdSeq, msg.Seq, a.now())
	a.tracker.learn(id, msg.Metrics)
	a.remember(ctx, id, msg.Metrics)

	a.log.Info("Node born", zap.Stringer("node", id), zap.Int64("bdSeq", bdSeq))

	return a.call(ctx, a.hook(&a.onBirth), msg)
}

func (a *Application) handleDeviceBirth(ctx context.Context, msg *dispatch.Message) error {
	id := identityOf(msg.Topic)

	if !a.checkSequence(ctx, id, msg.Seq) {
		return nil
	}

	a.tracker.device(id, true)
	a.tracker.learn(id, msg.Metrics)
	a.remember(ctx, id, msg.Metrics)

	a.log.Info("Device born", zap.Stringer("device", id))

	return a.call(ctx, a.hook(&a.onBirth), msg)
}

func (a *Application) handleData(ctx context.Context, msg *dispatch.Message) error {
	id := identityOf(msg.Topic)

	if !a.checkSequence(ctx, id, msg.Seq) {
		return nil
	}

	msg.Metrics = a.tracker.resolve(id, msg.Metrics)
	a.remember(ctx, id, msg.Metrics)

	return a.call(ctx, a.hook(&a.onData), msg)
}

func (a *Application) handleNodeDeath(ctx context.Context, msg *dispatch.Message) error {
	id := identityOf(msg.Topic)

	bdSeq, _ := sessionNumberOf(msg.Metrics)
	if !a.tracker.nodeDeath(id, bdSeq, a.now()) {
		a.log.Info("Ignoring death certificate of an older session",
			zap.Stringer("node", id),
			zap.Int64("bdSeq", bdSeq))
		return nil
	}

	a.log.Info("Node died", zap.Stringer("node", id), zap.Int64("bdSeq", bdSeq))

	return a.call(ctx, a.hook(&a.onDeath), msg)
}

func (a *Application) handleDeviceDeath(ctx context.Context, msg *dispatch.Message) error {
	id := identityOf(msg.Topic)

	if !a.checkSequence(ctx, id, msg.Seq) {
		return nil
	}

	a.tracker.device(id, false)
	a.log.Info("Device died", zap.Stringer("device", id))

	return a.call(ctx, a.hook(&a.onDeath), msg)
}

func (a *Application) handleState(ctx context.Context, hostID string, state protocol.HostState) error {
	a.hooksMu.RLock()
	h := a.onState
	a.hooksMu.RUnlock()

	if h == nil {
		return nil
	}

	return h(ctx, hostID, state)
}

// checkSequence records the sequence number of a message from a born node.
// It returns false when the node has no live session, after asking for a
// rebirth if enabled.
func (a *Application) checkSequence(ctx context.Context, id message.Identity, seq *uint64) bool {
	missed, born := a.tracker.sequence(id, seq, a.now())

	if !born {
		a.log.Warn("Message from a node that is not born", zap.Stringer("node", id))
		a.requestRebirth(ctx, id)
		return false
	}

	if missed > 0 {
		a.telemetry.SequenceGap()
		a.log.Warn("Sequence gap",
			zap.Stringer("node", id.Node()),
			zap.Uint64("missed", missed))
		a.requestRebirth(ctx, id)
	}

	return true
}

func (a *Application) requestRebirth(ctx context.Context, id message.Identity) {
	if !a.rebirth || !a.state.IsConnected() {
		return
	}

	if err := a.RequestRebirth(ctx, id.Node()); err != nil {
		a.log.Warn("Failed to request rebirth", zap.Stringer("node", id.Node()), zap.Error(err))
	}
}

func (a *Application) remember(ctx context.Context, id message.Identity, metrics []metric.Metric) {
	if a.store == nil {
		return
	}

	values := make([]metric.Metric, 0, len(metrics))
	for _, m := range metrics {
		if m.Name == "" || m.Name == protocol.MetricBdSeq {
			continue
		}
		values = append(values, m)
	}

	if len(values) == 0 {
		return
	}

	scope := storage.Scope(id.GroupID, id.EdgeNodeID)
	if id.IsDevice() {
		scope = storage.Scope(id.GroupID, id.EdgeNodeID, id.DeviceID)
	}

	if err := a.store.Set(ctx, scope, values...); err != nil {
		a.log.Warn("Failed to store values", zap.String("scope", scope), zap.Error(err))
	}
}

func (a *Application) hook(h *dispatch.HandlerFunc) dispatch.HandlerFunc {
	a.hooksMu.RLock()
	defer a.hooksMu.RUnlock()

	return *h
}

func (a *Application) call(ctx context.Context, h dispatch.HandlerFunc, msg *dispatch.Message) error {
	if h == nil {
		return nil
	}

	return h(ctx, msg)
}

// sessionNumberOf returns the bdSeq metric, -1 when there is none.
func sessionNumberOf(metrics []metric.Metric) (int64, bool) {
	for _, m := range metrics {
		if m.Name != protocol.MetricBdSeq || m.IsNull {
			continue
		}

		switch v := m.Value.(type) {
		case int64:
			return v, true
		case uint64:
			return int64(v), true
		case int32:
			return int64(v), true
		case uint32:
			return int64(v), true
		}
	}

	return -1, false
}
