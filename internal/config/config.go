// Package config assembles the server's runtime configuration from CLI
// flags and a small set of environment-variable overrides.
package config

import "github.com/kelseyhightower/envconfig"

// Config holds everything needed to wire the capture, fan-out, RFB and
// HID pipeline together, plus the listener and device-path defaults
// spec.md §6 names as the server's external interface.
type Config struct {
	BindAddr string
	VNCPort  int
	WSPort   int

	VideoPath        string
	ForceFramebuffer bool

	KeyboardHIDPath string
	MouseHIDPath    string

	TLSEnabled bool
	VNCCert    string
	VNCKey     string

	Env Env
}

// Env captures the handful of settings that make more sense as
// environment variables than CLI flags in a container deployment.
type Env struct {
	LogLevel string `envconfig:"KVMRS_LOG_LEVEL" default:"info"`
}

// Default returns a Config populated with spec.md §6's documented
// defaults, before CLI flags are applied on top.
func Default() Config {
	return Config{
		BindAddr:        "0.0.0.0",
		VNCPort:         5900,
		WSPort:          8443,
		VideoPath:       "/dev/video0",
		KeyboardHIDPath: "/dev/hidg0",
		MouseHIDPath:    "/dev/hidg1",
	}
}

// LoadEnv overlays environment-variable overrides onto cfg.Env.
func LoadEnv(cfg *Config) error {
	return envconfig.Process("", &cfg.Env)
}
