package cmd

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/sparkplug/application"
	"github.com/luma/sparkplug/dispatch"
	"github.com/luma/sparkplug/internal/env"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/node"
	"github.com/luma/sparkplug/storage"
	"github.com/luma/sparkplug/telemetry"
	"github.com/luma/sparkplug/transport"
)

var (
	demoCount    int
	demoInterval time.Duration
)

func init() {
	flags := DemoCmd.Flags()

	flags.IntVarP(&demoCount, "count", "n", 10, "How many data messages to publish")
	flags.DurationVar(&demoInterval, "interval", time.Second, "Time between data messages")
}

var DemoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an edge node and a host application over an in-memory broker",
	Long: `Run an edge node and a host application over an in-memory broker

The node publishes random readings for itself and one device, the host
logs what it receives. Nothing leaves the process.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		log, err := env.MakeLogger("info")
		if err != nil {
			return err
		}

		return runDemo(ctx, transport.NewBroker(), demoCount, demoInterval, log)
	},
}

func runDemo(ctx context.Context, broker *transport.Broker, count int, interval time.Duration, log *zap.Logger) (err error) {
	t := telemetry.New()

	hostStore := storage.NewInmemoryStore()
	defer func() {
		err = multierr.Append(err, hostStore.Close())
	}()

	app, err := application.New(application.Options{
		HostID:      "demo-host",
		Transport:   broker.NewClient("demo-host"),
		Store:       hostStore,
		AutoRebirth: true,
		Telemetry:   t,
		Log:         log,
	})
	if err != nil {
		return err
	}

	app.OnData(func(ctx context.Context, msg *dispatch.Message) error {
		for _, m := range msg.Metrics {
			log.Info("Received", zap.String("topic", msg.Topic.String()), zap.String("metric", m.Name), zap.Any("value", m.Value))
		}
		return nil
	})

	n, err := node.New(node.Options{
		GroupID:    "demo",
		EdgeNodeID: "edge1",
		KnownMetrics: []metric.Metric{
			metric.New("temperature", metric.Float, float32(20)),
			metric.New("count", metric.Int64, int64(0)),
		},
		Transport: broker.NewClient("demo-edge1"),
		Store:     storage.NewInmemoryStore(),
		Telemetry: t,
		Log:       log,
	})
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, n.Store().Close())
	}()

	if err = n.AddDevice(ctx, "pump", []metric.Metric{metric.New("rpm", metric.Int32, int32(0))}); err != nil {
		return err
	}

	if err = app.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, app.Disconnect(context.Background()))
	}()

	if err = n.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, n.Disconnect(context.Background()))
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if _, err = n.PublishMetrics(ctx, []metric.Metric{
			metric.New("temperature", metric.Float, 18+rand.Float32()*4),
			metric.New("count", metric.Int64, int64(i+1)),
		}); err != nil {
			return err
		}

		if _, err = n.PublishDeviceMetrics(ctx, "pump", []metric.Metric{
			metric.New("rpm", metric.Int32, int32(1000+rand.Intn(500))),
		}); err != nil {
			return err
		}
	}

	for _, s := range app.Nodes() {
		log.Info("Node",
			zap.Stringer("node", s.Identity),
			zap.Bool("online", s.Online),
			zap.Int64("bdSeq", s.SessionNumber),
			zap.Uint8("lastSeq", s.LastSeq),
			zap.Uint64("gaps", s.Gaps))
	}

	return nil
}
