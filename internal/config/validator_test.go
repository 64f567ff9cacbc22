package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{"http endpoint", func(c *Config) { c.Device.Endpoint = "http://plc:4840" }, "device.endpoint", true},
		{"endpoint without host", func(c *Config) { c.Device.Endpoint = "opc.tcp://" }, "device.endpoint", true},
		{"empty tag pattern", func(c *Config) { c.Device.TagPattern = "" }, "device.tag_pattern", true},
		{"unbalanced tag pattern", func(c *Config) { c.Device.TagPattern = "Turbine[" }, "device.tag_pattern", true},
		{"alternation tag pattern", func(c *Config) { c.Device.TagPattern = "{Line1,Line2}.*" }, "device.tag_pattern", false},
		{"empty setpoint tag", func(c *Config) { c.Device.SetpointTag = "" }, "device.setpoint_tag", true},
		{"bad security policy", func(c *Config) { c.Device.SecurityPolicy = "Aes256" }, "device.security_policy", true},
		{"bad security mode", func(c *Config) { c.Device.SecurityMode = "Encrypt" }, "device.security_mode", true},
		{"password without user", func(c *Config) { c.Device.Password = "secret" }, "device.username", true},
		{"zero device timeout", func(c *Config) { c.Device.RequestTimeout = 0 }, "device.request_timeout", true},
		{"zero connect timeout", func(c *Config) { c.Device.ConnectTimeout = 0 }, "device.connect_timeout", true},
		{"unknown transport", func(c *Config) { c.Shadow.Transport = "http" }, "shadow.transport", true},
		{"empty namespace", func(c *Config) { c.Shadow.Namespace = "" }, "shadow.namespace", true},
		{"wildcard prefix", func(c *Config) { c.Shadow.TopicPrefix = "$aws/#" }, "shadow.topic_prefix", true},
		{"empty setpoint key", func(c *Config) { c.Shadow.SetpointKey = "" }, "shadow.setpoint_key", true},
		{"zero shadow timeout", func(c *Config) { c.Shadow.RequestTimeout = 0 }, "shadow.request_timeout", true},
		{"broker without host", func(c *Config) { c.MQTT.Broker = "ssl://" }, "mqtt.broker", true},
		{"valid broker", func(c *Config) { c.MQTT.Broker = "ssl://abc-ats.iot.eu-west-1.amazonaws.com:8883" }, "mqtt.broker", false},
		{"cert without key", func(c *Config) { c.MQTT.CertFile = "cert.pem" }, "mqtt.cert_file", true},
		{"qos 2", func(c *Config) { c.MQTT.QoS = 2 }, "mqtt.qos", true},
		{"negative keep alive", func(c *Config) { c.MQTT.KeepAlive = -time.Second }, "mqtt.keep_alive", true},
		{"dataplane without endpoint", func(c *Config) { c.Shadow.Transport = TransportDataplane }, "aws.data_endpoint", true},
		{"mqtt ignores data endpoint", func(c *Config) { c.AWS.DataEndpoint = "" }, "aws.data_endpoint", false},
		{"breaker zero failures", func(c *Config) { c.Breaker.Enabled = true; c.Breaker.MaxFailures = 0 }, "breaker.max_failures", true},
		{"disabled breaker not checked", func(c *Config) { c.Breaker.MaxFailures = 0 }, "breaker.max_failures", false},
		{"breaker zero timeout", func(c *Config) { c.Breaker.Enabled = true; c.Breaker.OpenTimeout = 0 }, "breaker.open_timeout", true},
		{"uppercase log level", func(c *Config) { c.Logging.Level = "INFO" }, "logging.level", true},
		{"empty log level", func(c *Config) { c.Logging.Level = "" }, "logging.level", false},
		{"zero log size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb", true},
		{"huge log size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb", true},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if got := hasFieldError(errs, tt.field); got != tt.wantErr {
				t.Errorf("error on %s = %v, want %v (errors: %v)", tt.field, got, tt.wantErr, errs)
			}
		})
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Device.TagPattern = ""
	cfg.MQTT.QoS = 5
	cfg.Logging.Level = "loud"

	if errs := cfg.Validate(); len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidLogLevels(t *testing.T) {
	levels := ValidLogLevels()
	expected := []string{"debug", "info", "warn", "error"}
	if len(levels) != len(expected) {
		t.Fatalf("ValidLogLevels() returned %d levels, want %d", len(levels), len(expected))
	}
	for i, level := range expected {
		if levels[i] != level {
			t.Errorf("ValidLogLevels()[%d] = %q, want %q", i, levels[i], level)
		}
	}
}
