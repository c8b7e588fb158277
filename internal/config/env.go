package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

func stringVar(field func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func listVar(field func(c *Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*field(c) = out
		return nil
	}
}

func durationVar(field func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func intVar(field func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func floatVar(field func(c *Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func boolVar(field func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func exchangeVars(prefix string, ex func(c *Config) *ExchangeConfig) []envVar {
	return []envVar{
		{prefix + "MODE", stringVar(func(c *Config) *string { return &ex(c).Mode })},
		{prefix + "CLASSICAL", stringVar(func(c *Config) *string { return &ex(c).Classical })},
		{prefix + "PQ1", stringVar(func(c *Config) *string { return &ex(c).PQ1 })},
		{prefix + "PQ2", stringVar(func(c *Config) *string { return &ex(c).PQ2 })},
		{prefix + "CIPHER_SUITES", listVar(func(c *Config) *[]string { return &ex(c).CipherSuites })},
		{prefix + "HANDSHAKE_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &ex(c).HandshakeTimeout })},
		{prefix + "MAX_FRAME_SIZE", intVar(func(c *Config) *int { return &ex(c).MaxFrameSize })},
	}
}

// envVars lists every supported override without the EnvPrefix.
var envVars = func() []envVar {
	vars := []envVar{
		{"SERVER_LISTEN_ADDR", stringVar(func(c *Config) *string { return &c.Server.ListenAddr })},
		{"SERVER_MAX_CONNECTIONS", intVar(func(c *Config) *int { return &c.Server.MaxConnections })},
		{"SERVER_IDLE_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Server.IdleTimeout })},
		{"SERVER_WRITE_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Server.WriteTimeout })},
		{"SERVER_MAX_CONNECTIONS_PER_IP", intVar(func(c *Config) *int { return &c.Server.RateLimit.MaxConnectionsPerIP })},
		{"SERVER_HANDSHAKE_RATE", floatVar(func(c *Config) *float64 { return &c.Server.RateLimit.HandshakeRate })},
		{"SERVER_HANDSHAKE_BURST", intVar(func(c *Config) *int { return &c.Server.RateLimit.HandshakeBurst })},
		{"SERVER_IDENTITY_ALGORITHM", stringVar(func(c *Config) *string { return &c.Server.Identity.Algorithm })},
		{"SERVER_IDENTITY_SUBJECT", stringVar(func(c *Config) *string { return &c.Server.Identity.Subject })},
		{"CLIENT_ADDRESS", stringVar(func(c *Config) *string { return &c.Client.Address })},
		{"CLIENT_EXTRA_GROUPS", listVar(func(c *Config) *[]string { return &c.Client.ExtraGroups })},
		{"CLIENT_DIAL_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Client.DialTimeout })},
		{"CLIENT_REQUIRE_SERVER_IDENTITY", boolVar(func(c *Config) *bool { return &c.Client.RequireServerIdentity })},
		{"CLIENT_TRUSTED_KEY", stringVar(func(c *Config) *string { return &c.Client.TrustedKey })},
		{"CLIENT_SERVER_NAME", stringVar(func(c *Config) *string { return &c.Client.ServerName })},
		{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
		{"LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Log.Format })},
		{"METRICS_ENABLED", boolVar(func(c *Config) *bool { return &c.Metrics.Enabled })},
		{"METRICS_LISTEN_ADDR", stringVar(func(c *Config) *string { return &c.Metrics.ListenAddr })},
		{"METRICS_NAMESPACE", stringVar(func(c *Config) *string { return &c.Metrics.Namespace })},
		{"METRICS_TRACING", boolVar(func(c *Config) *bool { return &c.Metrics.Tracing })},
	}
	vars = append(vars, exchangeVars("SERVER_", func(c *Config) *ExchangeConfig { return &c.Server.Exchange })...)
	vars = append(vars, exchangeVars("CLIENT_", func(c *Config) *ExchangeConfig { return &c.Client.Exchange })...)
	return vars
}()

// EnvNames returns the full names of every supported variable.
func EnvNames() []string {
	out := make([]string, len(envVars))
	for i, v := range envVars {
		out[i] = EnvPrefix + v.name
	}
	return out
}

// ApplyEnv overrides c with every variable lookup finds. Empty values are
// ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, v := range envVars {
		name := EnvPrefix + v.name
		val, ok := lookup(name)
		if !ok || strings.TrimSpace(val) == "" {
			continue
		}
		if err := v.set(c, strings.TrimSpace(val)); err != nil {
			return &ConfigError{Field: name, Message: fmt.Sprintf("invalid value %q: %v", val, err)}
		}
	}
	return nil
}
