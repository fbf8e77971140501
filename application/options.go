package application

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/sparkplug/dispatch"
	"github.com/luma/sparkplug/protocol"
	"github.com/luma/sparkplug/storage"
	"github.com/luma/sparkplug/telemetry"
	"github.com/luma/sparkplug/transport"
)

type Options struct {
	HostID string

	// Namespace defaults to Sparkplug B
	Namespace protocol.Namespace

	// SpecificationVersion selects the STATE topic and payload. Defaults
	// to 3.0.
	SpecificationVersion protocol.SpecificationVersion

	// Groups limits the subscription to these group ids. Empty means the
	// whole namespace.
	Groups []string

	Transport transport.Transport

	// Store receives the latest value of every metric seen. Optional.
	Store storage.Store

	// AutoRebirth sends a rebirth request to a node when a sequence gap is
	// detected or data arrives from a node that was never born.
	AutoRebirth bool

	// QoS of commands
	QoS byte

	OnError dispatch.ErrorFunc

	Telemetry *telemetry.Telemetry

	Log *zap.Logger

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
