package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/amprelay/internal/fault"
	"github.com/danmuck/amprelay/internal/relay"
	"gopkg.in/yaml.v3"
)

const (
	TransportLoopback = "loopback"
	TransportTCP      = "tcp"
	TransportRedis    = "redis"

	FaultPolicyPark = "park"
	FaultPolicyExit = "exit"
)

var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// NodeConfig is the resolved configuration for one relay core.
type NodeConfig struct {
	Name              string
	Role              relay.Role
	Endpoint          string
	MaxMessageLen     int
	StartupDelay      time.Duration
	SendCount         int
	SendInterval      time.Duration
	EchoLimit         int
	HeartbeatInterval time.Duration
	LogLevel          string
	Transport         TransportConfig
	Admin             AdminConfig
	Fault             FaultConfig
}

// TransportConfig selects and parameterizes the inter-core channel.
type TransportConfig struct {
	Kind           string
	Instance       string
	Listen         string
	Dial           string
	RedisAddr      string
	RedisDB        int
	RedisNamespace string
	Peer           string
	Slots          int
	MaxPayload     uint32
}

// AdminConfig configures the optional HTTP admin surface.
type AdminConfig struct {
	Listen      string
	CorsOrigins []string
}

// FaultConfig selects the halt policy of the fault boundary.
type FaultConfig struct {
	Policy   string
	ExitCode int
}

// DefaultNodeConfig returns defaults for role.
func DefaultNodeConfig(role relay.Role) NodeConfig {
	peer := string(relay.RoleResponder)
	if role == relay.RoleResponder {
		peer = string(relay.RoleInitiator)
	}
	return NodeConfig{
		Name:              string(role),
		Role:              role,
		Endpoint:          "ep0",
		MaxMessageLen:     relay.DefaultMaxMessageLen,
		StartupDelay:      2 * time.Second,
		SendCount:         10,
		SendInterval:      time.Second,
		EchoLimit:         128,
		HeartbeatInterval: 5 * time.Second,
		LogLevel:          "info",
		Transport: TransportConfig{
			Kind:           TransportTCP,
			Instance:       "ipc0",
			Listen:         "127.0.0.1:7400",
			Dial:           "127.0.0.1:7400",
			RedisAddr:      "127.0.0.1:6379",
			RedisNamespace: "amprelay",
			Peer:           peer,
			Slots:          16,
			MaxPayload:     64 * 1024,
		},
		Fault: FaultConfig{Policy: FaultPolicyPark, ExitCode: 70},
	}
}

// fileConfig mirrors NodeConfig with optional fields so only keys present in
// the file override defaults.
type fileConfig struct {
	Name              *string        `toml:"name" yaml:"name"`
	Role              *string        `toml:"role" yaml:"role"`
	Endpoint          *string        `toml:"endpoint" yaml:"endpoint"`
	MaxMessageLen     *int           `toml:"max_message_len" yaml:"max_message_len"`
	StartupDelay      *string        `toml:"startup_delay" yaml:"startup_delay"`
	SendCount         *int           `toml:"send_count" yaml:"send_count"`
	SendInterval      *string        `toml:"send_interval" yaml:"send_interval"`
	SendIntervalMS    *int64         `toml:"send_interval_ms" yaml:"send_interval_ms"`
	EchoLimit         *int           `toml:"echo_limit" yaml:"echo_limit"`
	HeartbeatInterval *string        `toml:"heartbeat_interval" yaml:"heartbeat_interval"`
	LogLevel          *string        `toml:"log_level" yaml:"log_level"`
	Transport         *fileTransport `toml:"transport" yaml:"transport"`
	Admin             *fileAdmin     `toml:"admin" yaml:"admin"`
	Fault             *fileFault     `toml:"fault" yaml:"fault"`
}

type fileTransport struct {
	Kind           *string `toml:"kind" yaml:"kind"`
	Instance       *string `toml:"instance" yaml:"instance"`
	Listen         *string `toml:"listen" yaml:"listen"`
	Dial           *string `toml:"dial" yaml:"dial"`
	RedisAddr      *string `toml:"redis_addr" yaml:"redis_addr"`
	RedisDB        *int    `toml:"redis_db" yaml:"redis_db"`
	RedisNamespace *string `toml:"redis_namespace" yaml:"redis_namespace"`
	Peer           *string `toml:"peer" yaml:"peer"`
	Slots          *int    `toml:"slots" yaml:"slots"`
	MaxPayload     *uint32 `toml:"max_payload" yaml:"max_payload"`
}

type fileAdmin struct {
	Listen      *string  `toml:"listen" yaml:"listen"`
	CorsOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
}

type fileFault struct {
	Policy   *string `toml:"policy" yaml:"policy"`
	ExitCode *int    `toml:"exit_code" yaml:"exit_code"`
}

// Load reads a TOML or YAML node config, applies it over role defaults
// and validates the result.
func Load(path string) (NodeConfig, error) {
	raw, err := decodeFile(path)
	if err != nil {
		return NodeConfig{}, err
	}
	role := relay.RoleInitiator
	if raw.Role != nil {
		role, err = relay.ParseRole(*raw.Role)
		if err != nil {
			return NodeConfig{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg := DefaultNodeConfig(role)
	if err := apply(&cfg, raw); err != nil {
		return NodeConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var raw fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), &raw)
		if err != nil {
			return fileConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fileConfig{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return fileConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		return fileConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return raw, nil
}

func apply(cfg *NodeConfig, raw fileConfig) error {
	if raw.Name != nil {
		cfg.Name = strings.TrimSpace(*raw.Name)
	}
	if raw.Endpoint != nil {
		cfg.Endpoint = strings.TrimSpace(*raw.Endpoint)
	}
	if raw.MaxMessageLen != nil {
		cfg.MaxMessageLen = *raw.MaxMessageLen
	}
	if raw.StartupDelay != nil {
		d, err := parseDuration("startup_delay", *raw.StartupDelay)
		if err != nil {
			return err
		}
		cfg.StartupDelay = d
	}
	if raw.SendCount != nil {
		cfg.SendCount = *raw.SendCount
	}
	if raw.SendInterval != nil {
		d, err := parseDuration("send_interval", *raw.SendInterval)
		if err != nil {
			return err
		}
		cfg.SendInterval = d
	}
	if raw.SendIntervalMS != nil {
		cfg.SendInterval = time.Duration(*raw.SendIntervalMS) * time.Millisecond
	}
	if raw.EchoLimit != nil {
		cfg.EchoLimit = *raw.EchoLimit
	}
	if raw.HeartbeatInterval != nil {
		d, err := parseDuration("heartbeat_interval", *raw.HeartbeatInterval)
		if err != nil {
			return err
		}
		cfg.HeartbeatInterval = d
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = strings.TrimSpace(*raw.LogLevel)
	}
	if t := raw.Transport; t != nil {
		applyTransport(&cfg.Transport, t)
	}
	if a := raw.Admin; a != nil {
		if a.Listen != nil {
			cfg.Admin.Listen = strings.TrimSpace(*a.Listen)
		}
		if a.CorsOrigins != nil {
			cfg.Admin.CorsOrigins = normalizeList(a.CorsOrigins)
		}
	}
	if f := raw.Fault; f != nil {
		if f.Policy != nil {
			cfg.Fault.Policy = strings.ToLower(strings.TrimSpace(*f.Policy))
		}
		if f.ExitCode != nil {
			cfg.Fault.ExitCode = *f.ExitCode
		}
	}
	return nil
}

func applyTransport(cfg *TransportConfig, t *fileTransport) {
	if t.Kind != nil {
		cfg.Kind = strings.ToLower(strings.TrimSpace(*t.Kind))
	}
	if t.Instance != nil {
		cfg.Instance = strings.TrimSpace(*t.Instance)
	}
	if t.Listen != nil {
		cfg.Listen = strings.TrimSpace(*t.Listen)
	}
	if t.Dial != nil {
		cfg.Dial = strings.TrimSpace(*t.Dial)
	}
	if t.RedisAddr != nil {
		cfg.RedisAddr = strings.TrimSpace(*t.RedisAddr)
	}
	if t.RedisDB != nil {
		cfg.RedisDB = *t.RedisDB
	}
	if t.RedisNamespace != nil {
		cfg.RedisNamespace = strings.TrimSpace(*t.RedisNamespace)
	}
	if t.Peer != nil {
		cfg.Peer = strings.TrimSpace(*t.Peer)
	}
	if t.Slots != nil {
		cfg.Slots = *t.Slots
	}
	if t.MaxPayload != nil {
		cfg.MaxPayload = *t.MaxPayload
	}
}

// Validate checks a resolved node config.
func Validate(cfg NodeConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("node config missing name")
	}
	if _, err := relay.ParseRole(string(cfg.Role)); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return fmt.Errorf("node config missing endpoint")
	}
	if cfg.MaxMessageLen <= 0 {
		return fmt.Errorf("max_message_len must be positive")
	}
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if cfg.EchoLimit < 2 {
		return fmt.Errorf("echo_limit must be at least 2")
	}
	if cfg.SendCount < 0 {
		return fmt.Errorf("send_count must not be negative")
	}
	if cfg.Transport.MaxPayload != 0 && int(cfg.Transport.MaxPayload) < cfg.MaxMessageLen {
		return fmt.Errorf("transport max_payload %d smaller than max_message_len %d", cfg.Transport.MaxPayload, cfg.MaxMessageLen)
	}
	if err := ValidateTransport(cfg.Transport, cfg.Role); err != nil {
		return fmt.Errorf("transport invalid: %w", err)
	}
	switch cfg.Fault.Policy {
	case FaultPolicyPark, FaultPolicyExit:
	default:
		return fmt.Errorf("unknown fault policy %q", cfg.Fault.Policy)
	}
	return nil
}

// ValidateTransport checks the fields required by the selected transport kind.
func ValidateTransport(cfg TransportConfig, role relay.Role) error {
	if strings.TrimSpace(cfg.Instance) == "" {
		return fmt.Errorf("instance is required")
	}
	switch cfg.Kind {
	case TransportLoopback:
		return nil
	case TransportTCP:
		if role == relay.RoleResponder && strings.TrimSpace(cfg.Listen) == "" {
			return fmt.Errorf("listen is required for the responder")
		}
		if role == relay.RoleInitiator && strings.TrimSpace(cfg.Dial) == "" {
			return fmt.Errorf("dial is required for the initiator")
		}
		return nil
	case TransportRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return fmt.Errorf("redis_addr is required")
		}
		if strings.TrimSpace(cfg.Peer) == "" {
			return fmt.Errorf("peer is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown kind %q", cfg.Kind)
	}
}

// Halter returns the fault halter selected by the config.
func (c FaultConfig) Halter() fault.Halter {
	if c.Policy == FaultPolicyExit {
		return fault.ExitHalter{Code: c.ExitCode}
	}
	return fault.ParkHalter{}
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
