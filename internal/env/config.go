package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/luma/courier/client"
	"github.com/luma/courier/payload"
)

type Config struct {
	URL            string        `env:"COURIER_URL,default=nats://127.0.0.1:4222"`
	Name           string        `env:"COURIER_NAME"`
	Payload        string        `env:"COURIER_PAYLOAD,default=raw"`
	MaxPayload     int           `env:"COURIER_MAX_PAYLOAD"`
	User           string        `env:"COURIER_USER"`
	Password       string        `env:"COURIER_PASSWORD"`
	Token          string        `env:"COURIER_TOKEN"`
	Verbose        bool          `env:"COURIER_VERBOSE"`
	NoEcho         bool          `env:"COURIER_NO_ECHO"`
	Timeout        time.Duration `env:"COURIER_TIMEOUT,default=2s"`
	RequestTimeout time.Duration `env:"COURIER_REQUEST_TIMEOUT,default=5s"`
	PingInterval   time.Duration `env:"COURIER_PING_INTERVAL,default=2m"`
	MaxPingsOut    int           `env:"COURIER_MAX_PINGS_OUT,default=2"`

	Reconnect            bool          `env:"COURIER_RECONNECT"`
	MaxReconnectAttempts int           `env:"COURIER_MAX_RECONNECT_ATTEMPTS,default=60"`
	ReconnectWait        time.Duration `env:"COURIER_RECONNECT_WAIT,default=2s"`

	LogLevel  string `env:"COURIER_LOG_LEVEL,default=info"`
	DebugHTTP bool   `env:"COURIER_DEBUG_HTTP"`
}

// LoadConfig reads the configuration from the environment, after loading
// any variables defined in .env.local.
func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ClientOptions converts the configuration into connection options
func (c *Config) ClientOptions() (client.Options, error) {
	mode, err := payload.ParseMode(c.Payload)
	if err != nil {
		return client.Options{}, err
	}

	return client.Options{
		URL:                  c.URL,
		Name:                 c.Name,
		Payload:              mode,
		MaxPayload:           c.MaxPayload,
		User:                 c.User,
		Password:             c.Password,
		Token:                c.Token,
		Verbose:              c.Verbose,
		NoEcho:               c.NoEcho,
		Timeout:              c.Timeout,
		RequestTimeout:       c.RequestTimeout,
		PingInterval:         c.PingInterval,
		MaxPingsOut:          c.MaxPingsOut,
		Reconnect:            c.Reconnect,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		ReconnectWait:        c.ReconnectWait,
	}, nil
}
