package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Pablu23/Utcp/internal/client"
	"github.com/Pablu23/Utcp/internal/common"
	"github.com/Pablu23/Utcp/internal/metrics"
	"github.com/Pablu23/Utcp/internal/server"
)

const (
	ModeServer = "server"
	ModeClient = "client"
)

type Config struct {
	Mode     string `yaml:"mode"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	RetransmitTimeout time.Duration `yaml:"retransmit_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	Linger            time.Duration `yaml:"linger"`
	ChunkSize         int           `yaml:"chunk_size"`
	InboxSize         int           `yaml:"inbox_size"`

	Metrics MetricsConfig `yaml:"metrics"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

func Default() *Config {
	return &Config{
		Mode:              ModeClient,
		Host:              "127.0.0.1",
		Port:              13374,
		LogLevel:          "info",
		RetransmitTimeout: 200 * time.Millisecond,
		IdleTimeout:       30 * time.Second,
		Linger:            600 * time.Millisecond,
		ChunkSize:         common.ChunkSize,
		InboxSize:         64,
	}
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once instead of stopping at the first.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.Mode != ModeServer && cfg.Mode != ModeClient {
		errs = multierror.Append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeServer, ModeClient, cfg.Mode))
	}
	if cfg.Host == "" {
		errs = multierror.Append(errs, errors.New("host is empty"))
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("port %d out of range", cfg.Port))
	}
	if cfg.Mode == ModeClient && cfg.Port == 0 {
		errs = multierror.Append(errs, errors.New("client needs a port to connect to"))
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		errs = multierror.Append(errs, err)
	}
	if cfg.RetransmitTimeout < 0 {
		errs = multierror.Append(errs, errors.New("retransmit_timeout is negative"))
	}
	if cfg.IdleTimeout < 0 {
		errs = multierror.Append(errs, errors.New("idle_timeout is negative"))
	}
	if cfg.Linger < 0 {
		errs = multierror.Append(errs, errors.New("linger is negative"))
	}
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > common.ChunkSize {
		errs = multierror.Append(errs, fmt.Errorf("chunk_size must be in 1..%d, got %d", common.ChunkSize, cfg.ChunkSize))
	}
	if cfg.InboxSize <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("inbox_size must be positive, got %d", cfg.InboxSize))
	}
	if cfg.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("metrics.listen: %w", err))
		}
	}

	return errs
}

func (cfg *Config) Address() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

func (cfg *Config) Level() log.Level {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func (cfg *Config) ServerOptions(m *metrics.Metrics) func(*server.Options) {
	return func(o *server.Options) {
		o.RetransmitTimeout = cfg.RetransmitTimeout
		o.IdleTimeout = cfg.IdleTimeout
		o.InboxSize = cfg.InboxSize
		o.Metrics = m
	}
}

func (cfg *Config) ClientOptions(m *metrics.Metrics) func(*client.Options) {
	return func(o *client.Options) {
		o.RetransmitTimeout = cfg.RetransmitTimeout
		o.IdleTimeout = cfg.IdleTimeout
		o.Linger = cfg.Linger
		o.ChunkSize = cfg.ChunkSize
		o.Metrics = m
	}
}
