// Package config loads hybrid-kex server and client settings.
//
// Values are applied in order: defaults, the YAML file, then HYBRIDKEX_*
// environment variables. A .env file, when present, is read into the
// environment first and never overrides variables that are already set.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	"github.com/sara-star-quant/hybrid-kex/pkg/identity"
	"github.com/sara-star-quant/hybrid-kex/pkg/negotiation"
	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
	"github.com/sara-star-quant/hybrid-kex/pkg/tunnel"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "HYBRIDKEX_"

// DefaultEnvFile is read by Load when no env file is named.
const DefaultEnvFile = ".env"

// Config is the complete configuration file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ExchangeConfig is the key exchange policy shared by both roles.
type ExchangeConfig struct {
	Mode             string        `yaml:"mode"`
	Classical        string        `yaml:"classical"`
	PQ1              string        `yaml:"pq1"`
	PQ2              string        `yaml:"pq2"`
	CipherSuites     []string      `yaml:"cipher_suites"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MaxFrameSize     int           `yaml:"max_frame_size"`
}

// ServerConfig configures `hybrid-kex serve`.
type ServerConfig struct {
	ListenAddr     string         `yaml:"listen_addr"`
	Exchange       ExchangeConfig `yaml:",inline"`
	MaxConnections int            `yaml:"max_connections"`
	IdleTimeout    time.Duration  `yaml:"idle_timeout"`
	ReapInterval   time.Duration  `yaml:"reap_interval"`
	WriteTimeout   time.Duration  `yaml:"write_timeout"`
	RateLimit      RateLimit      `yaml:"rate_limit"`
	Identity       IdentityConfig `yaml:"identity"`
}

// RateLimit mirrors tunnel.RateLimitConfig.
type RateLimit struct {
	MaxConnectionsPerIP int     `yaml:"max_connections_per_ip"`
	HandshakeRate       float64 `yaml:"handshake_rate"`
	HandshakeBurst      int     `yaml:"handshake_burst"`
}

// IdentityConfig makes the server generate a signing key and certificate
// at startup. An empty Algorithm disables server identity.
type IdentityConfig struct {
	Algorithm string        `yaml:"algorithm"`
	Subject   string        `yaml:"subject"`
	Validity  time.Duration `yaml:"validity"`
}

// ClientConfig configures `hybrid-kex connect`.
type ClientConfig struct {
	Address               string         `yaml:"address"`
	Exchange              ExchangeConfig `yaml:",inline"`
	ExtraGroups           []string       `yaml:"extra_groups"`
	DialTimeout           time.Duration  `yaml:"dial_timeout"`
	RequireServerIdentity bool           `yaml:"require_server_identity"`
	TrustedKey            string         `yaml:"trusted_key"` // hex
	ServerName            string         `yaml:"server_name"`
}

// LogConfig selects the logger level and format ("text" or "json").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the observability endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Namespace  string `yaml:"namespace"`
	Tracing    bool   `yaml:"tracing"`
}

// Default returns the built-in configuration: dual hybrid X25519 with
// ML-KEM-768 on both sides.
func Default() *Config {
	exchange := ExchangeConfig{
		Mode:             negotiation.DualHybrid.String(),
		Classical:        string(primitive.X25519),
		PQ1:              string(primitive.MLKEM768),
		HandshakeTimeout: constants.DefaultHandshakeTimeout,
		MaxFrameSize:     constants.DefaultMaxFrameSize,
	}
	for _, cs := range constants.DefaultCipherSuites {
		exchange.CipherSuites = append(exchange.CipherSuites, cs.String())
	}
	clientExchange := exchange
	clientExchange.CipherSuites = append([]string(nil), exchange.CipherSuites...)

	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":8443",
			Exchange:       exchange,
			MaxConnections: constants.DefaultMaxConnections,
			IdleTimeout:    constants.DefaultIdleTimeout,
			ReapInterval:   constants.DefaultReapInterval,
			WriteTimeout:   constants.DefaultClientTimeout,
			Identity:       IdentityConfig{Validity: identity.DefaultValidity},
		},
		Client: ClientConfig{
			Address:     "127.0.0.1:8443",
			Exchange:    clientExchange,
			DialTimeout: constants.DefaultClientTimeout,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{ListenAddr: ":9090"},
	}
}

// Load reads the configuration. An empty path skips the file. envFiles
// default to DefaultEnvFile, which may be absent; named files must exist.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. It does
// not consult the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func loadEnvFiles(files []string) error {
	explicit := len(files) > 0
	if !explicit {
		files = []string{DefaultEnvFile}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) && !explicit {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ConfigError describes an invalid setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Exchange.validate("server"); err != nil {
		return err
	}
	if err := c.Client.Exchange.validate("client"); err != nil {
		return err
	}
	if c.Server.MaxConnections < 0 {
		return invalid("server.max_connections", "must not be negative")
	}
	for field, d := range map[string]time.Duration{
		"server.idle_timeout":  c.Server.IdleTimeout,
		"server.write_timeout": c.Server.WriteTimeout,
		"client.dial_timeout":  c.Client.DialTimeout,
	} {
		if d <= 0 {
			return invalid(field, "must be positive, got %v", d)
		}
	}
	if c.Server.ReapInterval < 0 {
		return invalid("server.reap_interval", "must not be negative")
	}
	rl := c.Server.RateLimit
	if rl.MaxConnectionsPerIP < 0 || rl.HandshakeRate < 0 || rl.HandshakeBurst < 0 {
		return invalid("server.rate_limit", "values must not be negative")
	}
	if alg := c.Server.Identity.Algorithm; alg != "" {
		if _, err := primitive.Default().Signer(primitive.AlgorithmID(alg)); err != nil {
			return invalid("server.identity.algorithm", "%v", err)
		}
		if c.Server.Identity.Subject == "" {
			return invalid("server.identity.subject", "required with an identity algorithm")
		}
	}
	if c.Client.TrustedKey != "" {
		if _, err := hex.DecodeString(c.Client.TrustedKey); err != nil {
			return invalid("client.trusted_key", "not hex: %v", err)
		}
	}
	for _, g := range c.Client.ExtraGroups {
		if !primitive.Default().Has(primitive.AlgorithmID(g)) {
			return invalid("client.extra_groups", "unknown algorithm %q", g)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json", "console":
	default:
		return invalid("log.format", "unknown format %q", c.Log.Format)
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return invalid("metrics.listen_addr", "required when metrics are enabled")
	}
	return nil
}

func (e *ExchangeConfig) validate(section string) error {
	policy, err := e.Policy()
	if err != nil {
		return invalid(section+".mode", "%v", err)
	}
	if err := policy.Validate(primitive.Default()); err != nil {
		return invalid(section, "%v", err)
	}
	if _, err := e.Suites(); err != nil {
		return invalid(section+".cipher_suites", "%v", err)
	}
	if e.HandshakeTimeout <= 0 {
		return invalid(section+".handshake_timeout", "must be positive, got %v", e.HandshakeTimeout)
	}
	if e.MaxFrameSize < constants.MinMaxFrameSize {
		return invalid(section+".max_frame_size", "must be at least %d, got %d", constants.MinMaxFrameSize, e.MaxFrameSize)
	}
	return nil
}

// Policy builds the negotiation policy.
func (e *ExchangeConfig) Policy() (negotiation.Policy, error) {
	mode, err := negotiation.ParseMode(e.Mode)
	if err != nil {
		return negotiation.Policy{}, err
	}
	return negotiation.Policy{
		Mode:      mode,
		Classical: primitive.AlgorithmID(e.Classical),
		PQ1:       primitive.AlgorithmID(e.PQ1),
		PQ2:       primitive.AlgorithmID(e.PQ2),
	}, nil
}

// Suites parses the cipher suite names in preference order.
func (e *ExchangeConfig) Suites() ([]constants.CipherSuite, error) {
	if len(e.CipherSuites) == 0 {
		return nil, errors.New("at least one cipher suite is required")
	}
	out := make([]constants.CipherSuite, 0, len(e.CipherSuites))
	for _, name := range e.CipherSuites {
		cs, ok := constants.ParseCipherSuite(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite %q", name)
		}
		out = append(out, cs)
	}
	return out, nil
}

func (e *ExchangeConfig) handshake(obs tunnel.Observer) (tunnel.Config, error) {
	policy, err := e.Policy()
	if err != nil {
		return tunnel.Config{}, err
	}
	suites, err := e.Suites()
	if err != nil {
		return tunnel.Config{}, err
	}
	return tunnel.Config{
		Policy:           policy,
		CipherSuites:     suites,
		HandshakeTimeout: e.HandshakeTimeout,
		MaxFrameSize:     e.MaxFrameSize,
		Observer:         obs,
	}, nil
}

// Policy builds the server's negotiation policy.
func (s *ServerConfig) Policy() (negotiation.Policy, error) {
	return s.Exchange.Policy()
}

// TunnelConfig builds the server configuration, generating the identity
// key when one is configured. The caller owns the returned identity.
func (s *ServerConfig) TunnelConfig(obs tunnel.Observer) (tunnel.ServerConfig, error) {
	hs, err := s.Exchange.handshake(obs)
	if err != nil {
		return tunnel.ServerConfig{}, err
	}
	if s.Identity.Algorithm != "" {
		signer, err := primitive.Default().Signer(primitive.AlgorithmID(s.Identity.Algorithm))
		if err != nil {
			return tunnel.ServerConfig{}, err
		}
		id, err := identity.New(signer, s.Identity.Subject, s.Identity.Validity, time.Now())
		if err != nil {
			return tunnel.ServerConfig{}, err
		}
		hs.Identity = id
	}
	return tunnel.ServerConfig{
		Handshake:      hs,
		MaxConnections: s.MaxConnections,
		IdleTimeout:    s.IdleTimeout,
		ReapInterval:   s.ReapInterval,
		WriteTimeout:   s.WriteTimeout,
		RateLimit: tunnel.RateLimitConfig{
			MaxConnectionsPerIP: s.RateLimit.MaxConnectionsPerIP,
			HandshakeRateLimit:  s.RateLimit.HandshakeRate,
			HandshakeBurst:      s.RateLimit.HandshakeBurst,
		},
	}, nil
}

// Policy builds the client's negotiation policy.
func (c *ClientConfig) Policy() (negotiation.Policy, error) {
	return c.Exchange.Policy()
}

// TunnelConfig builds the client handshake configuration.
func (c *ClientConfig) TunnelConfig(obs tunnel.Observer) (tunnel.Config, error) {
	hs, err := c.Exchange.handshake(obs)
	if err != nil {
		return tunnel.Config{}, err
	}
	for _, g := range c.ExtraGroups {
		hs.ExtraGroups = append(hs.ExtraGroups, primitive.AlgorithmID(g))
	}
	if c.TrustedKey != "" {
		key, err := hex.DecodeString(c.TrustedKey)
		if err != nil {
			return tunnel.Config{}, invalid("client.trusted_key", "not hex: %v", err)
		}
		hs.TrustedKey = key
	}
	hs.RequireServerIdentity = c.RequireServerIdentity
	hs.ServerName = c.ServerName
	return hs, nil
}
