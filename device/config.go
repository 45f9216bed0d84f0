package device

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Barry-Xu-2018/spresense-camera/v4l2"
)

// StreamConfig is the declarative buffer configuration for one stream,
// the YAML-facing counterpart of a request_buffers call.
type StreamConfig struct {
	BufferCount uint32 `yaml:"buffer_count"`
	Mode        string `yaml:"mode"`
}

func (c StreamConfig) bufferMode() (v4l2.BufferMode, error) {
	switch c.Mode {
	case "", "fifo":
		return v4l2.BufferModeFIFO, nil
	case "ring":
		return v4l2.BufferModeRing, nil
	default:
		return 0, fmt.Errorf("device: config: stream mode %q: %w", c.Mode, v4l2.ErrorInvalidArg)
	}
}

// Config is the top-level declarative configuration for a Manager,
// loaded from YAML. It only ever pre-seeds what request_buffers could
// also set at runtime — it carries no capability or format information,
// since FormatCatalog is always derived live from the injected
// SensorCtl/ImageData (spec §3).
type Config struct {
	Video StreamConfig `yaml:"video"`
	Still StreamConfig `yaml:"still"`
}

// LoadConfig decodes a Manager Config from YAML, rejecting unknown
// fields so a typo in a deployment manifest surfaces immediately rather
// than silently keeping a default.
func LoadConfig(r io.Reader) (Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("device: load config: %w", err)
	}
	return cfg, nil
}

// Option configures a Manager at construction time, following the
// functional-options style go4vl's device package uses for opening a
// capture device.
type Option func(*Manager) error

// WithLogger attaches a structured logger. The default is a no-op
// logger, so NotifyPath's debug trace on a dropped unknown buffer-type
// (spec §7) is silent unless a caller opts in.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) error {
		if log == nil {
			return fmt.Errorf("device: with logger: %w", v4l2.ErrorInvalidArg)
		}
		m.log = log
		return nil
	}
}

// WithMetrics registers Prometheus instrumentation against reg. Without
// this option a Manager runs with metrics disabled.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Manager) error {
		if reg == nil {
			return fmt.Errorf("device: with metrics: %w", v4l2.ErrorInvalidArg)
		}
		m.met = newMetrics(reg)
		return nil
	}
}

// WithConfig pre-sizes and pre-modes both streams' queues from a decoded
// Config, equivalent to calling request_buffers on each stream
// immediately after Open.
func WithConfig(cfg Config) Option {
	return func(m *Manager) error {
		m.pendingConfig = &cfg
		return nil
	}
}

func (m *Manager) applyPendingConfig() error {
	if m.pendingConfig == nil {
		return nil
	}
	cfg := m.pendingConfig
	m.pendingConfig = nil

	if cfg.Video.BufferCount > 0 {
		mode, err := cfg.Video.bufferMode()
		if err != nil {
			return err
		}
		if err := m.RequestBuffers(v4l2.StreamVideo, cfg.Video.BufferCount, mode); err != nil {
			return err
		}
	}
	if cfg.Still.BufferCount > 0 {
		mode, err := cfg.Still.bufferMode()
		if err != nil {
			return err
		}
		if err := m.RequestBuffers(v4l2.StreamStill, cfg.Still.BufferCount, mode); err != nil {
			return err
		}
	}
	return nil
}
