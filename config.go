package main

import (
	"encoding/json"

	"github.com/postfern/smtpd/daemon/smtpd"
)

// Config is the single configuration file format that dictates all functions of this program.
type Config struct {
	// SMTPDaemon configures the mail server itself.
	SMTPDaemon smtpd.Daemon `json:"SMTPDaemon"`

	// EnablePrometheusIntegration collects and serves prometheus metrics readings.
	EnablePrometheusIntegration bool `json:"EnablePrometheusIntegration"`
	// MetricsPort is the localhost port serving the prometheus metrics endpoint.
	MetricsPort int `json:"MetricsPort"`
}

// DeserialiseFromJSON reads the configuration from the JSON input.
func (config *Config) DeserialiseFromJSON(in []byte) error {
	return json.Unmarshal(in, config)
}
