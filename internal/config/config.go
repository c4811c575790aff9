// Package config loads sessionkeeper settings from an optional YAML file and the environment.
package config

import (
	"time"

	pkgcrypto "github.com/and161185/sessionkeeper/internal/crypto"
	"github.com/and161185/sessionkeeper/internal/obs"
	pg "github.com/and161185/sessionkeeper/internal/repository/postgres"
)

// EnvPrefix namespaces environment overrides, e.g. SESSIONKEEPER_DB_DSN.
const EnvPrefix = "SESSIONKEEPER"

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

// IsProd reports whether the process runs in production.
func (a App) IsProd() bool { return a.Env == "prod" }

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type Auth struct {
	AccessSecret  string        `mapstructure:"access_secret"`
	RefreshSecret string        `mapstructure:"refresh_secret"`
	MasterSecret  string        `mapstructure:"master_secret"`
	Issuer        string        `mapstructure:"issuer"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	CookieDomain  string        `mapstructure:"cookie_domain"`
	CookiePath    string        `mapstructure:"cookie_path"`
	CookieSecure  bool          `mapstructure:"cookie_secure"`
	InternalKey   string        `mapstructure:"internal_key"`
}

// Keys resolves the signing secrets, deriving them from the master secret when
// explicit ones are not set.
func (a *Auth) Keys() (pkgcrypto.Keys, error) {
	return pkgcrypto.LoadKeys(a.AccessSecret, a.RefreshSecret, a.MasterSecret)
}

type Limiter struct {
	Enable   bool          `mapstructure:"enable"`
	Window   time.Duration `mapstructure:"window"`
	MaxFails int           `mapstructure:"max_fails"`
	BlockFor time.Duration `mapstructure:"block_for"`
}

type Sweeper struct {
	Enable   bool          `mapstructure:"enable"`
	Interval time.Duration `mapstructure:"interval"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Buffer  int      `mapstructure:"buffer"`
}

// Enabled reports whether events should be published to Kafka.
func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 && k.Topic != "" }

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// AsOTELConfig stamps the app identity on the trace settings.
func (c *Config) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      c.OTEL.Enable,
		Endpoint:    c.OTEL.OTLPEndpoint,
		ServiceName: c.OTEL.ServiceName,
		Env:         c.App.Env,
		Version:     c.App.Version,
		SampleRatio: c.OTEL.SampleRatio,
	}
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	App     App       `mapstructure:"app"`
	Server  Server    `mapstructure:"server"`
	DB      pg.Config `mapstructure:"db"`
	Auth    Auth      `mapstructure:"auth"`
	Limiter Limiter   `mapstructure:"limiter"`
	Sweeper Sweeper   `mapstructure:"sweeper"`
	Kafka   Kafka     `mapstructure:"kafka"`
	OTEL    OTEL      `mapstructure:"otel"`
	Log     Log       `mapstructure:"log"`
}

// AsLoggerConfig stamps the app identity on the log settings.
func (c *Config) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
		App:    c.App.Name,
		Env:    c.App.Env,
		Ver:    c.App.Version,
	}
}

// SecureCookies reports whether cookies must carry the Secure attribute.
func (c *Config) SecureCookies() bool { return c.App.IsProd() || c.Auth.CookieSecure }

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
