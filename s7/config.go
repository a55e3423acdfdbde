package s7

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything needed to build an Endpoint plus an optional poll
// list for cmd/s7cli, scaled down from the gateway's whole-application
// config.Config to exactly the fields named in the configuration-options
// table (§6).
type Config struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port,omitempty"`
	Rack             int           `yaml:"rack,omitempty"`
	Slot             int           `yaml:"slot,omitempty"`
	SrcTSAP          uint16        `yaml:"src_tsap,omitempty"`
	DstTSAP          uint16        `yaml:"dst_tsap,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`
	MaxJobs          int           `yaml:"max_jobs,omitempty"`
	MaxPDUSize       int           `yaml:"max_pdu_size,omitempty"`
	AutoReconnect    time.Duration `yaml:"auto_reconnect,omitempty"`
	SkipOptimization bool          `yaml:"skip_optimization,omitempty"`
	OptimizationGap  int           `yaml:"optimization_gap,omitempty"`
	Poll             []PollTag     `yaml:"poll,omitempty"`
}

// PollTag is one symbolic tag name/address pair cmd/s7cli reads on an
// interval.
type PollTag struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// DefaultConfig returns a Config with the library's own defaults (§6, §9
// constants table).
func DefaultConfig() *Config {
	return &Config{
		Port:            DefaultPort,
		Rack:            DefaultRack,
		Slot:            DefaultSlot,
		Timeout:         DefaultTimeoutMillis * time.Millisecond,
		MaxJobs:         DefaultMaxJobs,
		MaxPDUSize:      DefaultProposedPDUSize,
		AutoReconnect:   DefaultReconnectMillis * time.Millisecond,
		OptimizationGap: DefaultOptimizationGap,
	}
}

// LoadConfig reads a YAML config file, grounded on config/config.go's
// Load(path) shape (gopkg.in/yaml.v3, defaults-then-overlay), trimmed to this
// library's own option set instead of the whole gateway's.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Host == "" {
		return nil, newError(KindInvalidArgument, "config: host is required")
	}
	return cfg, nil
}

// Address returns host:port, applying the configured port if set.
func (c *Config) Address() string {
	if c.Port == 0 {
		return c.Host
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EndpointOptions translates the config into Endpoint options.
func (c *Config) EndpointOptions() []Option {
	opts := []Option{
		WithRackSlot(c.Rack, c.Slot),
	}
	if c.SrcTSAP != 0 || c.DstTSAP != 0 {
		src := c.SrcTSAP
		if src == 0 {
			src = DefaultSrcTSAP
		}
		dst := c.DstTSAP
		if dst == 0 {
			dst = DstTSAPForRackSlot(c.Rack, c.Slot)
		}
		opts = append(opts, WithEndpointTSAP(src, dst))
	}
	if c.Timeout > 0 {
		opts = append(opts, WithTimeout(c.Timeout))
	}
	if c.MaxJobs > 0 {
		opts = append(opts, WithMaxJobs(c.MaxJobs))
	}
	if c.MaxPDUSize > 0 {
		opts = append(opts, WithEndpointMaxPDUSize(c.MaxPDUSize))
	}
	opts = append(opts, WithAutoReconnect(c.AutoReconnect))
	return opts
}

// Gap returns the optimization gap to pass to ItemGroup.SetOptimizationGap,
// honoring SkipOptimization by returning a negative gap that canCoalesce
// never satisfies.
func (c *Config) Gap() int {
	if c.SkipOptimization {
		return -1
	}
	if c.OptimizationGap > 0 {
		return c.OptimizationGap
	}
	return DefaultOptimizationGap
}
