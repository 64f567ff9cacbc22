package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete shadowbridge configuration
type Config struct {
	// ThingName is the cloud thing whose shadow is bridged. It is normally
	// supplied through the AWS_IOT_THING_NAME environment variable.
	ThingName string        `mapstructure:"thing_name" yaml:"thing_name"`
	Device    DeviceConfig  `mapstructure:"device" yaml:"device"`
	Shadow    ShadowConfig  `mapstructure:"shadow" yaml:"shadow"`
	MQTT      MQTTConfig    `mapstructure:"mqtt" yaml:"mqtt"`
	AWS       AWSConfig     `mapstructure:"aws" yaml:"aws"`
	Breaker   BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
	Metrics   MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Logging   LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// DeviceConfig controls the connection to the tag server
type DeviceConfig struct {
	// Endpoint is the OPC UA endpoint URL (opc.tcp://host:port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// TagPattern selects the tags published every cycle. Glob syntax over
	// dotted tag names, e.g. "TurbineSensors.*"
	TagPattern string `mapstructure:"tag_pattern" yaml:"tag_pattern"`
	// BrowseRoot is the node the flat tag listing starts from
	BrowseRoot string `mapstructure:"browse_root" yaml:"browse_root"`
	// SetpointTag is the tag written when the desired set-point changes
	SetpointTag string `mapstructure:"setpoint_tag" yaml:"setpoint_tag"`
	// SecurityPolicy is one of None, Basic128Rsa15, Basic256, Basic256Sha256
	SecurityPolicy string `mapstructure:"security_policy" yaml:"security_policy"`
	// SecurityMode is one of None, Sign, SignAndEncrypt
	SecurityMode string `mapstructure:"security_mode" yaml:"security_mode"`
	// CertFile and KeyFile are the client application certificate used when
	// the security policy is not None
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`
	// Username and Password enable user-name authentication when set
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
	// RequestTimeout bounds every read, write and browse call
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// ConnectTimeout bounds session establishment
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// ShadowConfig controls how the named shadow is addressed and interpreted
type ShadowConfig struct {
	// Transport selects the request path for get/update: "mqtt" or "dataplane".
	// The delta stream always uses MQTT.
	Transport string `mapstructure:"transport" yaml:"transport"`
	// TopicPrefix is the reserved topic prefix (default "$aws")
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	// Namespace is the key under reported/desired holding the bridge's data
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	// SetpointKey is the key under desired.<namespace> holding the set-point
	SetpointKey string `mapstructure:"setpoint_key" yaml:"setpoint_key"`
	// InitialSetpoint, when set, seeds the last-applied value as a JSON scalar
	// ("0", "true", "\"auto\""). Empty means nothing has been applied yet.
	InitialSetpoint string `mapstructure:"initial_setpoint" yaml:"initial_setpoint"`
	// RequestTimeout bounds get/update round-trips
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// MQTTConfig controls the broker connection
type MQTTConfig struct {
	// Broker is the broker URL, e.g. ssl://xxxx-ats.iot.eu-west-1.amazonaws.com:8883
	Broker string `mapstructure:"broker" yaml:"broker"`
	// ClientID defaults to the thing name when empty
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	CAFile   string `mapstructure:"ca_file" yaml:"ca_file"`
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`
	// KeepAlive is the MQTT keep-alive interval
	KeepAlive time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
	// ConnectTimeout bounds the initial broker connection
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	// QoS used for publishes and subscriptions (0 or 1)
	QoS int `mapstructure:"qos" yaml:"qos"`
}

// AWSConfig controls the HTTPS data-plane transport
type AWSConfig struct {
	Region string `mapstructure:"region" yaml:"region"`
	// DataEndpoint is the account's data endpoint host (xxxx-ats.iot.<region>.amazonaws.com)
	DataEndpoint string `mapstructure:"data_endpoint" yaml:"data_endpoint"`
}

// BreakerConfig controls the circuit breaker around device reads
type BreakerConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// MaxFailures is the number of consecutive failed cycles that opens the breaker
	MaxFailures int `mapstructure:"max_failures" yaml:"max_failures"`
	// OpenTimeout is how long the breaker stays open before probing again
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the address for /metrics (e.g. ":9102"); empty disables it
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is the directory for shadowbridge.log; empty logs to stderr
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size before rotation
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Transport values for ShadowConfig.Transport
const (
	TransportMQTT      = "mqtt"
	TransportDataplane = "dataplane"
)

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Endpoint:       "opc.tcp://localhost:4840",
			TagPattern:     "TurbineSensors.*",
			BrowseRoot:     "i=85",
			SetpointTag:    "TurbineSensors.Flag",
			SecurityPolicy: "None",
			SecurityMode:   "None",
			RequestTimeout: 5 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Shadow: ShadowConfig{
			Transport:      TransportMQTT,
			TopicPrefix:    "$aws",
			Namespace:      "opcda",
			SetpointKey:    "flag",
			RequestTimeout: 10 * time.Second,
		},
		MQTT: MQTTConfig{
			KeepAlive:      30 * time.Second,
			ConnectTimeout: 30 * time.Second,
			QoS:            1,
		},
		Breaker: BreakerConfig{
			Enabled:     false,
			MaxFailures: 5,
			OpenTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// SetDefaults registers default values with the global viper instance
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("thing_name", defaults.ThingName)

	// Device defaults
	v.SetDefault("device.endpoint", defaults.Device.Endpoint)
	v.SetDefault("device.tag_pattern", defaults.Device.TagPattern)
	v.SetDefault("device.browse_root", defaults.Device.BrowseRoot)
	v.SetDefault("device.setpoint_tag", defaults.Device.SetpointTag)
	v.SetDefault("device.security_policy", defaults.Device.SecurityPolicy)
	v.SetDefault("device.security_mode", defaults.Device.SecurityMode)
	v.SetDefault("device.cert_file", defaults.Device.CertFile)
	v.SetDefault("device.key_file", defaults.Device.KeyFile)
	v.SetDefault("device.username", defaults.Device.Username)
	v.SetDefault("device.password", defaults.Device.Password)
	v.SetDefault("device.request_timeout", defaults.Device.RequestTimeout)
	v.SetDefault("device.connect_timeout", defaults.Device.ConnectTimeout)

	// Shadow defaults
	v.SetDefault("shadow.transport", defaults.Shadow.Transport)
	v.SetDefault("shadow.topic_prefix", defaults.Shadow.TopicPrefix)
	v.SetDefault("shadow.namespace", defaults.Shadow.Namespace)
	v.SetDefault("shadow.setpoint_key", defaults.Shadow.SetpointKey)
	v.SetDefault("shadow.initial_setpoint", defaults.Shadow.InitialSetpoint)
	v.SetDefault("shadow.request_timeout", defaults.Shadow.RequestTimeout)

	// MQTT defaults
	v.SetDefault("mqtt.broker", defaults.MQTT.Broker)
	v.SetDefault("mqtt.client_id", defaults.MQTT.ClientID)
	v.SetDefault("mqtt.ca_file", defaults.MQTT.CAFile)
	v.SetDefault("mqtt.cert_file", defaults.MQTT.CertFile)
	v.SetDefault("mqtt.key_file", defaults.MQTT.KeyFile)
	v.SetDefault("mqtt.keep_alive", defaults.MQTT.KeepAlive)
	v.SetDefault("mqtt.connect_timeout", defaults.MQTT.ConnectTimeout)
	v.SetDefault("mqtt.qos", defaults.MQTT.QoS)

	// AWS defaults
	v.SetDefault("aws.region", defaults.AWS.Region)
	v.SetDefault("aws.data_endpoint", defaults.AWS.DataEndpoint)

	// Breaker defaults
	v.SetDefault("breaker.enabled", defaults.Breaker.Enabled)
	v.SetDefault("breaker.max_failures", defaults.Breaker.MaxFailures)
	v.SetDefault("breaker.open_timeout", defaults.Breaker.OpenTimeout)

	v.SetDefault("metrics.listen", defaults.Metrics.Listen)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from the global viper instance and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v into a Config struct and validates it
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return cfg, nil
}

// Decode reads the configuration from v without validating it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ClientID returns the MQTT client ID, falling back to the thing name
func (c *Config) ClientID() string {
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return c.ThingName
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "shadowbridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shadowbridge"
	}
	return filepath.Join(home, ".config", "shadowbridge")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidTransports returns the list of valid shadow transports
func ValidTransports() []string {
	return []string{TransportMQTT, TransportDataplane}
}
