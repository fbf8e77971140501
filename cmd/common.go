package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/sparkplug/internal/env"
	"github.com/luma/sparkplug/storage"
	"github.com/luma/sparkplug/telemetry"
	"github.com/luma/sparkplug/transport"
)

var (
	// The host the HTTP API listens on
	host string

	// The port the HTTP API listens on
	httpPort string
)

func addHTTPFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
}

// setup loads the config and the logger every command starts with.
func setup(ctx context.Context) (*env.Config, *zap.Logger, error) {
	conf, err := env.LoadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	log, err := env.MakeLogger(conf.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	if err = conf.Validate(); err != nil {
		return nil, nil, err
	}

	return conf, log, nil
}

func newTransport(conf *env.Config, log *zap.Logger) *transport.MQTT {
	return transport.NewMQTT(transport.Options{
		Brokers:      conf.Brokers,
		ClientID:     conf.ClientID,
		Username:     conf.Username,
		Password:     conf.Password,
		CleanSession: true,
		Log:          log.Named("transport"),
	})
}

// newStore picks the store from the URL: empty keeps values in memory,
// redis:// uses Redis.
func newStore(conf *env.Config) (storage.Store, error) {
	if conf.StoreURL == "" {
		return storage.NewInmemoryStore(), nil
	}

	if strings.HasPrefix(conf.StoreURL, "redis://") || strings.HasPrefix(conf.StoreURL, "rediss://") {
		return storage.NewRedisStore(conf.StoreURL)
	}

	return nil, errors.New("SPARKPLUG_STORE_URL must be empty or a redis:// URL")
}

func setupRouter(debugHTTP bool, log *zap.Logger, t *telemetry.Telemetry) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log, with RFC3339
	// UTC times.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping", "/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(t.Gatherer(), promhttp.HandlerOpts{})))

	return r
}

// serve runs the HTTP API until ctx is done, then shuts it down.
func serve(ctx context.Context, router http.Handler, log *zap.Logger) {
	s := &http.Server{
		Addr:    net.JoinHostPort(host, httpPort),
		Handler: router,
	}

	// Initializing the server in a goroutine so that
	// it won't block the graceful shutdown handling below
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Http server errored", zap.Error(err))
		}
	}()

	log.Info("Listening", zap.String("host", host), zap.String("httpPort", httpPort))

	<-ctx.Done()

	// The server has 5 seconds to finish the request it is currently
	// handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.SetKeepAlivesEnabled(false)

	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Error("Http server forced to shutdown", zap.Error(err))
	}
}
