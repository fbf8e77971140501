package env

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/multierr"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/protocol"
)

type Config struct {
	GroupID    string `env:"SPARKPLUG_GROUP_ID"`
	EdgeNodeID string `env:"SPARKPLUG_EDGE_NODE_ID"`
	HostID     string `env:"SPARKPLUG_HOST_ID,default=sparkplug-host"`

	Brokers  []string `env:"SPARKPLUG_BROKERS,default=tcp://localhost:1883"`
	ClientID string   `env:"SPARKPLUG_CLIENT_ID"`
	Username string   `env:"SPARKPLUG_USERNAME"`
	Password string   `env:"SPARKPLUG_PASSWORD"`

	Namespace   string `env:"SPARKPLUG_NAMESPACE,default=B"`
	SpecVersion string `env:"SPARKPLUG_SPEC_VERSION,default=3.0"`
	QoS         int    `env:"SPARKPLUG_QOS,default=0"`

	MetricsFile   string `env:"SPARKPLUG_METRICS_FILE"`
	StoreURL      string `env:"SPARKPLUG_STORE_URL"`
	StrictMetrics bool   `env:"SPARKPLUG_STRICT_METRICS"`
	AutoRebirth   bool   `env:"SPARKPLUG_AUTO_REBIRTH"`

	DebugHTTP bool   `env:"SPARKPLUG_DEBUG_HTTP"`
	LogLevel  string `env:"SPARKPLUG_LOG_LEVEL,default=info"`
}

// LoadConfig reads .env.local, if there is one, then the environment.
func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, pkgerrors.Configuration("env.LoadConfig", err)
		}
	}

	return LoadConfigWith(ctx, envconfig.OsLookuper())
}

// LoadConfigWith reads the config from l. A missing client id is generated.
func LoadConfigWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, l); err != nil {
		return nil, pkgerrors.Configuration("env.LoadConfig", err)
	}

	if config.ClientID == "" {
		config.ClientID = "sparkplug-" + uuid.NewString()
	}

	return &config, nil
}

// Protocol returns the parsed namespace and specification version.
func (c *Config) Protocol() (protocol.Namespace, protocol.SpecificationVersion, error) {
	ns, err := protocol.ParseNamespace(c.Namespace)
	if err != nil {
		return 0, 0, pkgerrors.Configuration("env.Config", err)
	}

	version, err := protocol.ParseSpecificationVersion(c.SpecVersion)
	if err != nil {
		return 0, 0, pkgerrors.Configuration("env.Config", err)
	}

	return ns, version, nil
}

// Validate checks the settings every command needs. Identity checks are
// left to the entity being built.
func (c *Config) Validate() (err error) {
	if _, _, perr := c.Protocol(); perr != nil {
		err = multierr.Append(err, perr)
	}

	if c.QoS < 0 || c.QoS > 2 {
		err = multierr.Append(err, pkgerrors.Configuration("env.Config",
			fmt.Errorf("SPARKPLUG_QOS %d is not 0, 1 or 2", c.QoS)))
	}

	if len(c.Brokers) == 0 {
		err = multierr.Append(err, pkgerrors.Configuration("env.Config",
			fmt.Errorf("SPARKPLUG_BROKERS is empty")))
	}

	for _, broker := range c.Brokers {
		if !strings.Contains(broker, "://") {
			err = multierr.Append(err, pkgerrors.Configuration("env.Config",
				fmt.Errorf("broker '%s' has no scheme", broker)))
		}
	}

	return err
}
