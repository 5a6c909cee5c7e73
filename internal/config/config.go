package config

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/USA-RedDragon/rtz-link/internal/codec"
	"github.com/go-errors/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log     Log     `json:"log"`
	Link    Link    `json:"link"`
	Metrics Metrics `json:"metrics"`
	NATS    NATS    `json:"nats"`
	Peer    Peer    `json:"peer"`
}

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type Log struct {
	Level LogLevel `json:"level"`
}

type Link struct {
	URL              string        `json:"url"`
	Codec            string        `json:"codec"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	ConnectTimeout   time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	WriteBuffer      int           `json:"write_buffer" yaml:"write_buffer"`
	AuthToken        string        `json:"auth_token" yaml:"auth_token"`
}

type Metrics struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

type NATS struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Subject string `json:"subject"`
	Queue   string `json:"queue"`
}

type PProf struct {
	Enabled bool `json:"enabled"`
}

type Peer struct {
	Address        string   `json:"address"`
	JWTSecret      string   `json:"jwt_secret" yaml:"jwt_secret"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	PProf          PProf    `json:"pprof"`
}

//nolint:golint,gochecknoglobals
var (
	ConfigFileKey           = "config"
	LogLevelKey             = "log.level"
	LinkURLKey              = "link.url"
	LinkCodecKey            = "link.codec"
	LinkHandshakeTimeoutKey = "link.handshake_timeout"
	LinkConnectTimeoutKey   = "link.connect_timeout"
	LinkWriteBufferKey      = "link.write_buffer"
	//nolint:golint,gosec
	LinkAuthTokenKey      = "link.auth_token"
	MetricsEnabledKey     = "metrics.enabled"
	MetricsAddressKey     = "metrics.address"
	NATSEnabledKey        = "nats.enabled"
	NATSURLKey            = "nats.url"
	NATSSubjectKey        = "nats.subject"
	NATSQueueKey          = "nats.queue"
	PeerAddressKey        = "peer.address"
	PeerJWTSecretKey      = "peer.jwt_secret"
	PeerAllowedOriginsKey = "peer.allowed_origins"
	PeerPProfEnabledKey   = "peer.pprof.enabled"
)

const (
	DefaultConfigPath           = "config.yaml"
	DefaultLogLevel             = LogLevelInfo
	DefaultLinkURL              = "ws://localhost:8080/rpc"
	DefaultLinkCodec            = codec.NameJSON
	DefaultLinkHandshakeTimeout = 10 * time.Second
	DefaultLinkConnectTimeout   = 10 * time.Second
	DefaultLinkWriteBuffer      = 1024
	DefaultMetricsAddress       = "127.0.0.1:8081"
	DefaultNATSURL              = "nats://127.0.0.1:4222"
	DefaultNATSSubject          = "rtz-link.call"
	DefaultPeerAddress          = ":8080"
)

func RegisterFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP(ConfigFileKey, "c", DefaultConfigPath, "Config file path")
	cmd.PersistentFlags().String(LogLevelKey, string(DefaultLogLevel), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String(LinkURLKey, DefaultLinkURL, "Websocket URL of the peer")
	cmd.PersistentFlags().String(LinkCodecKey, DefaultLinkCodec, "Wire codec (json, cbor)")
	cmd.PersistentFlags().Duration(LinkHandshakeTimeoutKey, DefaultLinkHandshakeTimeout, "Websocket handshake timeout")
	cmd.PersistentFlags().Duration(LinkConnectTimeoutKey, DefaultLinkConnectTimeout, "How long to wait for the connection to open")
	cmd.PersistentFlags().Int(LinkWriteBufferKey, DefaultLinkWriteBuffer, "Outbound frame queue length")
	cmd.PersistentFlags().String(LinkAuthTokenKey, "", "Bearer token sent to the peer")
	cmd.PersistentFlags().Bool(MetricsEnabledKey, false, "Enable metrics server")
	cmd.PersistentFlags().String(MetricsAddressKey, DefaultMetricsAddress, "Metrics server address")
	cmd.PersistentFlags().Bool(NATSEnabledKey, false, "Enable the NATS bridge")
	cmd.PersistentFlags().String(NATSURLKey, DefaultNATSURL, "NATS server URL")
	cmd.PersistentFlags().String(NATSSubjectKey, DefaultNATSSubject, "NATS subject to relay requests from")
	cmd.PersistentFlags().String(NATSQueueKey, "", "NATS queue group")
	cmd.PersistentFlags().String(PeerAddressKey, DefaultPeerAddress, "Peer server listen address")
	cmd.PersistentFlags().String(PeerJWTSecretKey, "", "JWT secret required from clients of the peer server")
	cmd.PersistentFlags().StringSlice(PeerAllowedOriginsKey, []string{}, "Comma-separated list of allowed websocket origins")
	cmd.PersistentFlags().Bool(PeerPProfEnabledKey, false, "Enable pprof on the peer server")
}

var (
	ErrInvalidLogLevel        = errors.New("Invalid log level provided")
	ErrLinkURLRequired        = errors.New("Link URL is required")
	ErrInvalidLinkURL         = errors.New("Link URL must be a ws:// or wss:// URL")
	ErrInvalidCodec           = errors.New("Invalid codec provided")
	ErrInvalidTimeout         = errors.New("Timeouts must not be negative")
	ErrInvalidWriteBuffer     = errors.New("Write buffer must be positive")
	ErrMetricsAddressRequired = errors.New("Metrics address is required when metrics are enabled")
	ErrNATSURLRequired        = errors.New("NATS URL is required when NATS is enabled")
	ErrNATSSubjectRequired    = errors.New("NATS subject is required when NATS is enabled")
	ErrPeerAddressRequired    = errors.New("Peer address is required")
	ErrPeerJWTSecretRequired  = errors.New("Peer JWT secret is required")
	ErrNATSNotEnabled         = errors.New("NATS is not enabled")
)

func (c *Config) Validate() error {
	switch c.Log.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return ErrInvalidLogLevel
	}
	if c.Link.URL == "" {
		return ErrLinkURLRequired
	}
	u, err := url.Parse(c.Link.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return ErrInvalidLinkURL
	}
	if _, err := codec.ByName(c.Link.Codec); err != nil {
		return ErrInvalidCodec
	}
	if c.Link.HandshakeTimeout < 0 || c.Link.ConnectTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.Link.WriteBuffer <= 0 {
		return ErrInvalidWriteBuffer
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return ErrMetricsAddressRequired
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return ErrNATSURLRequired
	}
	if c.NATS.Enabled && c.NATS.Subject == "" {
		return ErrNATSSubjectRequired
	}
	if c.Peer.Address == "" {
		return ErrPeerAddressRequired
	}

	return nil
}

// SlogLevel maps the configured level onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func LoadConfig(cmd *cobra.Command) (*Config, error) {
	var config Config

	// Load flags from envs
	ctx, cancel := context.WithCancelCause(cmd.Context())
	defer cancel(nil)
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if ctx.Err() != nil {
			return
		}
		optName := strings.ReplaceAll(strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_"), ".", "__")
		if val, ok := os.LookupEnv(optName); !f.Changed && ok {
			if err := f.Value.Set(val); err != nil {
				cancel(err)
			}
			f.Changed = true
		}
	})
	if ctx.Err() != nil {
		return &config, fmt.Errorf("failed to load env: %w", context.Cause(ctx))
	}

	configPath, err := cmd.Flags().GetString(ConfigFileKey)
	if err != nil {
		return &config, fmt.Errorf("failed to get config path: %w", err)
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return &config, fmt.Errorf("failed to read config: %w", err)
		} else if err == nil {
			if err := yaml.Unmarshal(data, &config); err != nil {
				return &config, fmt.Errorf("failed to unmarshal config: %w", err)
			}
		}
	}

	err = overrideFlags(&config, cmd)
	if err != nil {
		return &config, fmt.Errorf("failed to override flags: %w", err)
	}

	// Defaults
	if config.Log.Level == "" {
		config.Log.Level = DefaultLogLevel
	}
	if config.Link.URL == "" {
		config.Link.URL = DefaultLinkURL
	}
	if config.Link.Codec == "" {
		config.Link.Codec = DefaultLinkCodec
	}
	if config.Link.HandshakeTimeout == 0 {
		config.Link.HandshakeTimeout = DefaultLinkHandshakeTimeout
	}
	if config.Link.ConnectTimeout == 0 {
		config.Link.ConnectTimeout = DefaultLinkConnectTimeout
	}
	if config.Link.WriteBuffer == 0 {
		config.Link.WriteBuffer = DefaultLinkWriteBuffer
	}
	if config.Metrics.Address == "" {
		config.Metrics.Address = DefaultMetricsAddress
	}
	if config.NATS.URL == "" {
		config.NATS.URL = DefaultNATSURL
	}
	if config.NATS.Subject == "" {
		config.NATS.Subject = DefaultNATSSubject
	}
	if config.Peer.Address == "" {
		config.Peer.Address = DefaultPeerAddress
	}

	return &config, nil
}

func overrideFlags(config *Config, cmd *cobra.Command) error {
	var err error
	if cmd.Flags().Changed(LogLevelKey) {
		level, err := cmd.Flags().GetString(LogLevelKey)
		if err != nil {
			return fmt.Errorf("failed to get log level: %w", err)
		}
		config.Log.Level = LogLevel(strings.ToLower(level))
	}

	if cmd.Flags().Changed(LinkURLKey) {
		config.Link.URL, err = cmd.Flags().GetString(LinkURLKey)
		if err != nil {
			return fmt.Errorf("failed to get link URL: %w", err)
		}
	}

	if cmd.Flags().Changed(LinkCodecKey) {
		name, err := cmd.Flags().GetString(LinkCodecKey)
		if err != nil {
			return fmt.Errorf("failed to get link codec: %w", err)
		}
		config.Link.Codec = strings.ToLower(name)
	}

	if cmd.Flags().Changed(LinkHandshakeTimeoutKey) {
		config.Link.HandshakeTimeout, err = cmd.Flags().GetDuration(LinkHandshakeTimeoutKey)
		if err != nil {
			return fmt.Errorf("failed to get handshake timeout: %w", err)
		}
	}

	if cmd.Flags().Changed(LinkConnectTimeoutKey) {
		config.Link.ConnectTimeout, err = cmd.Flags().GetDuration(LinkConnectTimeoutKey)
		if err != nil {
			return fmt.Errorf("failed to get connect timeout: %w", err)
		}
	}

	if cmd.Flags().Changed(LinkWriteBufferKey) {
		config.Link.WriteBuffer, err = cmd.Flags().GetInt(LinkWriteBufferKey)
		if err != nil {
			return fmt.Errorf("failed to get write buffer: %w", err)
		}
	}

	if cmd.Flags().Changed(LinkAuthTokenKey) {
		config.Link.AuthToken, err = cmd.Flags().GetString(LinkAuthTokenKey)
		if err != nil {
			return fmt.Errorf("failed to get auth token: %w", err)
		}
	}

	if cmd.Flags().Changed(MetricsEnabledKey) {
		config.Metrics.Enabled, err = cmd.Flags().GetBool(MetricsEnabledKey)
		if err != nil {
			return fmt.Errorf("failed to get metrics enabled: %w", err)
		}
	}

	if cmd.Flags().Changed(MetricsAddressKey) {
		config.Metrics.Address, err = cmd.Flags().GetString(MetricsAddressKey)
		if err != nil {
			return fmt.Errorf("failed to get metrics address: %w", err)
		}
	}

	if cmd.Flags().Changed(NATSEnabledKey) {
		config.NATS.Enabled, err = cmd.Flags().GetBool(NATSEnabledKey)
		if err != nil {
			return fmt.Errorf("failed to get NATS enabled: %w", err)
		}
	}

	if cmd.Flags().Changed(NATSURLKey) {
		config.NATS.URL, err = cmd.Flags().GetString(NATSURLKey)
		if err != nil {
			return fmt.Errorf("failed to get NATS URL: %w", err)
		}
	}

	if cmd.Flags().Changed(NATSSubjectKey) {
		config.NATS.Subject, err = cmd.Flags().GetString(NATSSubjectKey)
		if err != nil {
			return fmt.Errorf("failed to get NATS subject: %w", err)
		}
	}

	if cmd.Flags().Changed(NATSQueueKey) {
		config.NATS.Queue, err = cmd.Flags().GetString(NATSQueueKey)
		if err != nil {
			return fmt.Errorf("failed to get NATS queue: %w", err)
		}
	}

	if cmd.Flags().Changed(PeerAddressKey) {
		config.Peer.Address, err = cmd.Flags().GetString(PeerAddressKey)
		if err != nil {
			return fmt.Errorf("failed to get peer address: %w", err)
		}
	}

	if cmd.Flags().Changed(PeerJWTSecretKey) {
		config.Peer.JWTSecret, err = cmd.Flags().GetString(PeerJWTSecretKey)
		if err != nil {
			return fmt.Errorf("failed to get peer JWT secret: %w", err)
		}
	}

	if cmd.Flags().Changed(PeerAllowedOriginsKey) {
		config.Peer.AllowedOrigins, err = cmd.Flags().GetStringSlice(PeerAllowedOriginsKey)
		if err != nil {
			return fmt.Errorf("failed to get allowed origins: %w", err)
		}
	}

	if cmd.Flags().Changed(PeerPProfEnabledKey) {
		config.Peer.PProf.Enabled, err = cmd.Flags().GetBool(PeerPProfEnabledKey)
		if err != nil {
			return fmt.Errorf("failed to get pprof enabled: %w", err)
		}
	}

	return nil
}
