package node

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/sparkplug/dispatch"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/protocol"
	"github.com/luma/sparkplug/storage"
	"github.com/luma/sparkplug/telemetry"
	"github.com/luma/sparkplug/transport"
)

type Options struct {
	GroupID    string
	EdgeNodeID string

	// Namespace selects the payload format. Defaults to Sparkplug B.
	Namespace protocol.Namespace

	// SpecificationVersion defaults to 3.0
	SpecificationVersion protocol.SpecificationVersion

	// KnownMetrics are the only metrics the node reports
	KnownMetrics []metric.Metric

	Transport transport.Transport

	// Store keeps last values for births. Optional.
	Store storage.Store

	// StrictMetrics makes publishing an unknown metric an error instead of
	// dropping it
	StrictMetrics bool

	// QoS of births, data and deaths. Sparkplug expects 0.
	QoS byte

	// OnError receives inbound failures: undecodable commands and handler
	// errors
	OnError dispatch.ErrorFunc

	Telemetry *telemetry.Telemetry

	Log *zap.Logger

	// Clock stamps payloads. Defaults to time.Now.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Namespace == 0 {
		o.Namespace = protocol.NamespaceB
	}

	if o.SpecificationVersion == 0 {
		o.SpecificationVersion = protocol.Version30
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	if o.Clock == nil {
		o.Clock = time.Now
	}

	return o
}
