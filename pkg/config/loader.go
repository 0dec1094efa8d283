package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/consul"
	"github.com/knadh/koanf/providers/etcd"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigType selects where configuration is loaded from.
type ConfigType string

const (
	ConfigTypeFile   ConfigType = "file"
	ConfigTypeConsul ConfigType = "consul"
	ConfigTypeEtcd   ConfigType = "etcd"
)

// LoaderOptions configure a Loader.
type LoaderOptions struct {
	Type      ConfigType
	Path      string
	Endpoints []string
	Watch     bool
	OnChange  func(*Config) error
}

// Loader loads and optionally watches gateway configuration.
type Loader struct {
	koanf    *koanf.Koanf
	options  LoaderOptions
	parser   *yaml.YAML
	stopChan chan struct{}
}

// NewLoader validates options and builds a loader.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Type == "" {
		opts.Type = ConfigTypeFile
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if len(opts.Endpoints) == 0 {
		switch opts.Type {
		case ConfigTypeConsul:
			opts.Endpoints = []string{"localhost:8500"}
		case ConfigTypeEtcd:
			opts.Endpoints = []string{"localhost:2379"}
		}
	}

	return &Loader{
		koanf:    koanf.New("."),
		options:  opts,
		parser:   yaml.Parser(),
		stopChan: make(chan struct{}),
	}, nil
}

// Load reads, expands, and validates the configuration, starting the watcher
// when requested.
func (l *Loader) Load() (*Config, error) {
	var provider koanf.Provider

	switch l.options.Type {
	case ConfigTypeFile:
		provider = file.Provider(l.options.Path)

	case ConfigTypeConsul:
		consulConfig := api.DefaultConfig()
		consulConfig.Address = l.options.Endpoints[0]
		provider = consul.Provider(consul.Config{
			Cfg: consulConfig,
			Key: l.options.Path,
		})

	case ConfigTypeEtcd:
		provider = etcd.Provider(etcd.Config{
			Endpoints:   l.options.Endpoints,
			DialTimeout: 5 * time.Second,
			Key:         l.options.Path,
		})

	default:
		return nil, fmt.Errorf("unsupported config type: %s", l.options.Type)
	}

	if err := l.koanf.Load(provider, l.parserFor()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", l.options.Type, err)
	}

	if err := l.expandEnvVars(); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	cfg, err := l.unmarshalAndProcess()
	if err != nil {
		return nil, err
	}

	if l.options.Watch {
		go l.watch(provider)
	}

	return cfg, nil
}

// parserFor returns the yaml parser for providers that deliver raw bytes.
// Consul and etcd values are yaml too in this deployment.
func (l *Loader) parserFor() koanf.Parser {
	return l.parser
}

// Watcher is the optional koanf provider watch capability.
type Watcher interface {
	Watch(cb func(event interface{}, err error)) error
}

func (l *Loader) watch(provider koanf.Provider) {
	watcher, ok := provider.(Watcher)
	if !ok {
		slog.Warn("config provider does not support watching", "type", l.options.Type)
		return
	}

	slog.Info("config watcher started", "type", l.options.Type, "path", l.options.Path)

	err := watcher.Watch(func(event interface{}, err error) {
		select {
		case <-l.stopChan:
			return
		default:
		}

		if err != nil {
			slog.Warn("config watch error", "error", err)
			return
		}

		fresh := koanf.New(".")
		if err := fresh.Load(provider, l.parserFor()); err != nil {
			slog.Warn("failed to reload config", "error", err)
			return
		}
		l.koanf = fresh

		if err := l.expandEnvVars(); err != nil {
			slog.Warn("failed to expand env vars in reloaded config", "error", err)
			return
		}

		newCfg, err := l.unmarshalAndProcess()
		if err != nil {
			slog.Warn("reloaded config rejected", "error", err)
			return
		}

		if l.options.OnChange != nil {
			if err := l.options.OnChange(newCfg); err != nil {
				slog.Warn("config change callback failed", "error", err)
			} else {
				slog.Info("configuration reloaded", "type", l.options.Type)
			}
		}
	})
	if err != nil {
		slog.Warn("config watch stopped", "error", err)
	}
}

func (l *Loader) unmarshalAndProcess() (*Config, error) {
	cfg := &Config{}
	if err := l.koanf.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) expandEnvVars() error {
	expanded, ok := ExpandEnvVarsInData(l.koanf.Raw()).(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected type after env var expansion")
	}

	fresh := koanf.New(".")
	if err := fresh.Load(confmap.Provider(expanded, "."), nil); err != nil {
		return fmt.Errorf("failed to load expanded config: %w", err)
	}
	l.koanf = fresh
	return nil
}

// OnChange installs (or replaces) the reload callback. Call before the first
// change event is expected.
func (l *Loader) OnChange(cb func(*Config) error) {
	l.options.OnChange = cb
}

// Stop terminates the watcher.
func (l *Loader) Stop() {
	close(l.stopChan)
}

// LoadConfig is the one-shot convenience entry point.
func LoadConfig(opts LoaderOptions) (*Config, error) {
	loader, err := NewLoader(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}
	return loader.Load()
}

// ParseConfigType parses a user-supplied config source name.
func ParseConfigType(s string) (ConfigType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file", "":
		return ConfigTypeFile, nil
	case "consul":
		return ConfigTypeConsul, nil
	case "etcd":
		return ConfigTypeEtcd, nil
	default:
		return "", fmt.Errorf("invalid config type: %s (valid types: file, consul, etcd)", s)
	}
}
