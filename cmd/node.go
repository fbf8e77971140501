package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/sparkplug/internal/env"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/node"
	"github.com/luma/sparkplug/telemetry"
)

func init() {
	addHTTPFlags(NodeCmd)
}

var NodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a Sparkplug edge node with an HTTP API to publish metrics",
	Long: `Run a Sparkplug edge node with an HTTP API to publish metrics

Usage
	SPARKPLUG_GROUP_ID=plant SPARKPLUG_EDGE_NODE_ID=line1 \
	SPARKPLUG_METRICS_FILE=metrics.yaml sparkplug node

The known metrics, and the devices with theirs, come from the YAML file in
SPARKPLUG_METRICS_FILE.
`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		conf, log, err := setup(ctx)
		if err != nil {
			return err
		}

		ns, version, err := conf.Protocol()
		if err != nil {
			return err
		}

		file := &env.MetricsFile{}
		if conf.MetricsFile != "" {
			if file, err = env.LoadMetricsFile(conf.MetricsFile); err != nil {
				return err
			}
		}

		known, err := env.Known(file.Metrics)
		if err != nil {
			return err
		}

		store, err := newStore(conf)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, store.Close())
		}()

		t := telemetry.New()

		n, err := node.New(node.Options{
			GroupID:              conf.GroupID,
			EdgeNodeID:           conf.EdgeNodeID,
			Namespace:            ns,
			SpecificationVersion: version,
			KnownMetrics:         known,
			Transport:            newTransport(conf, log),
			Store:                store,
			StrictMetrics:        conf.StrictMetrics,
			QoS:                  byte(conf.QoS),
			Telemetry:            t,
			Log:                  log,
		})
		if err != nil {
			return err
		}

		for _, d := range file.Devices {
			var deviceKnown []metric.Metric
			if deviceKnown, err = env.Known(d.Metrics); err != nil {
				return err
			}

			if err = n.AddDevice(ctx, d.ID, deviceKnown); err != nil {
				return err
			}
		}

		if err = n.Connect(ctx); err != nil {
			return err
		}

		router := setupRouter(conf.DebugHTTP, log, t)
		registerNodeAPI(router, n)

		serve(ctx, router, log)

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := n.Disconnect(disconnectCtx); err != nil {
			log.Error("Failed to disconnect", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}
