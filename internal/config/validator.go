package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "device.request_timeout")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidSecurityPolicies returns the supported OPC UA security policies
func ValidSecurityPolicies() []string {
	return []string{"None", "Basic128Rsa15", "Basic256", "Basic256Sha256"}
}

// ValidSecurityModes returns the accepted OPC UA message security modes
func ValidSecurityModes() []string {
	return []string{"None", "Sign", "SignAndEncrypt"}
}

// Validate checks the Config for invalid values and returns all validation errors found.
// The thing name is not checked here; it is only required to run the bridge.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateDevice()...)
	errors = append(errors, c.validateShadow()...)
	errors = append(errors, c.validateMQTT()...)
	errors = append(errors, c.validateAWS()...)
	errors = append(errors, c.validateBreaker()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateDevice() []ValidationError {
	var errors []ValidationError

	if u, err := url.Parse(c.Device.Endpoint); err != nil || u.Scheme != "opc.tcp" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "device.endpoint",
			Value:   c.Device.Endpoint,
			Message: "must be an opc.tcp://host:port URL",
		})
	}

	if c.Device.TagPattern == "" {
		errors = append(errors, ValidationError{
			Field:   "device.tag_pattern",
			Value:   c.Device.TagPattern,
			Message: "must not be empty",
		})
	} else if _, err := glob.Compile(c.Device.TagPattern, '.'); err != nil {
		errors = append(errors, ValidationError{
			Field:   "device.tag_pattern",
			Value:   c.Device.TagPattern,
			Message: fmt.Sprintf("invalid pattern: %v", err),
		})
	}

	if c.Device.SetpointTag == "" {
		errors = append(errors, ValidationError{
			Field:   "device.setpoint_tag",
			Value:   c.Device.SetpointTag,
			Message: "must not be empty",
		})
	}

	if !slices.Contains(ValidSecurityPolicies(), c.Device.SecurityPolicy) {
		errors = append(errors, ValidationError{
			Field:   "device.security_policy",
			Value:   c.Device.SecurityPolicy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSecurityPolicies(), ", ")),
		})
	}

	if !slices.Contains(ValidSecurityModes(), c.Device.SecurityMode) {
		errors = append(errors, ValidationError{
			Field:   "device.security_mode",
			Value:   c.Device.SecurityMode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSecurityModes(), ", ")),
		})
	}

	if c.Device.Password != "" && c.Device.Username == "" {
		errors = append(errors, ValidationError{
			Field:   "device.username",
			Value:   c.Device.Username,
			Message: "required when device.password is set",
		})
	}

	if c.Device.RequestTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "device.request_timeout",
			Value:   c.Device.RequestTimeout,
			Message: "must be positive",
		})
	}
	if c.Device.ConnectTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "device.connect_timeout",
			Value:   c.Device.ConnectTimeout,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateShadow() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidTransports(), c.Shadow.Transport) {
		errors = append(errors, ValidationError{
			Field:   "shadow.transport",
			Value:   c.Shadow.Transport,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidTransports(), ", ")),
		})
	}

	for _, f := range []struct{ field, value string }{
		{"shadow.topic_prefix", c.Shadow.TopicPrefix},
		{"shadow.namespace", c.Shadow.Namespace},
		{"shadow.setpoint_key", c.Shadow.SetpointKey},
	} {
		field, value := f.field, f.value
		if value == "" {
			errors = append(errors, ValidationError{Field: field, Value: value, Message: "must not be empty"})
		} else if strings.ContainsAny(value, "+#") {
			errors = append(errors, ValidationError{Field: field, Value: value, Message: "must not contain MQTT wildcards"})
		}
	}

	if c.Shadow.RequestTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "shadow.request_timeout",
			Value:   c.Shadow.RequestTimeout,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateMQTT() []ValidationError {
	var errors []ValidationError

	if c.MQTT.Broker != "" {
		if u, err := url.Parse(c.MQTT.Broker); err != nil || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "mqtt.broker",
				Value:   c.MQTT.Broker,
				Message: "must be a URL such as ssl://host:8883",
			})
		}
	}

	if (c.MQTT.CertFile == "") != (c.MQTT.KeyFile == "") {
		errors = append(errors, ValidationError{
			Field:   "mqtt.cert_file",
			Value:   c.MQTT.CertFile,
			Message: "mqtt.cert_file and mqtt.key_file must be set together",
		})
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 1 {
		errors = append(errors, ValidationError{
			Field:   "mqtt.qos",
			Value:   c.MQTT.QoS,
			Message: "must be 0 or 1",
		})
	}

	if c.MQTT.KeepAlive < 0 {
		errors = append(errors, ValidationError{
			Field:   "mqtt.keep_alive",
			Value:   c.MQTT.KeepAlive,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateAWS() []ValidationError {
	if c.Shadow.Transport != TransportDataplane {
		return nil
	}
	if c.AWS.DataEndpoint == "" {
		return []ValidationError{{
			Field:   "aws.data_endpoint",
			Value:   c.AWS.DataEndpoint,
			Message: "required when shadow.transport is dataplane",
		}}
	}
	return nil
}

func (c *Config) validateBreaker() []ValidationError {
	if !c.Breaker.Enabled {
		return nil
	}

	var errors []ValidationError
	if c.Breaker.MaxFailures < 1 {
		errors = append(errors, ValidationError{
			Field:   "breaker.max_failures",
			Value:   c.Breaker.MaxFailures,
			Message: "must be at least 1",
		})
	}
	if c.Breaker.OpenTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "breaker.open_timeout",
			Value:   c.Breaker.OpenTimeout,
			Message: "must be positive",
		})
	}
	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
