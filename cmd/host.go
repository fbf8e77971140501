package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/sparkplug/application"
	"github.com/luma/sparkplug/telemetry"
)

var hostGroups []string

func init() {
	addHTTPFlags(HostCmd)

	HostCmd.Flags().StringSliceVar(&hostGroups, "group", nil, "Only follow these groups (repeatable)")
}

var HostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run a Sparkplug host application",
	Long: `Run a Sparkplug host application

Usage
	SPARKPLUG_HOST_ID=scada sparkplug host --group plant

The host follows every edge node it sees, keeps their latest values and
serves them, and their session status, over HTTP.
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

		store, err := newStore(conf)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, store.Close())
		}()

		t := telemetry.New()

		app, err := application.New(application.Options{
			HostID:               conf.HostID,
			Namespace:            ns,
			SpecificationVersion: version,
			Groups:               hostGroups,
			Transport:            newTransport(conf, log),
			Store:                store,
			AutoRebirth:          conf.AutoRebirth,
			QoS:                  byte(conf.QoS),
			Telemetry:            t,
			Log:                  log,
		})
		if err != nil {
			return err
		}

		if err = app.Connect(ctx); err != nil {
			return err
		}

		router := setupRouter(conf.DebugHTTP, log, t)
		registerHostAPI(router, app)

		serve(ctx, router, log)

		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := app.Disconnect(disconnectCtx); err != nil {
			log.Error("Failed to disconnect", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}
