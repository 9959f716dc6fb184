package cache

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/IvanBrykalov/tiercache/policy"
	"github.com/IvanBrykalov/tiercache/policy/lru"
	"github.com/IvanBrykalov/tiercache/policy/slru"
)

// Config is the YAML-file shape of Options, with human-readable byte sizes
// ("256MB") and durations ("45s"). Scalar knobs only: callbacks, metrics
// backends, and loggers are wired in code.
type Config struct {
	MemoryCapacity      string  `yaml:"memory_capacity"`
	Dir                 string  `yaml:"directory"`
	DiskCapacity        string  `yaml:"disk_capacity"`
	MaxFileSize         string  `yaml:"max_file_size"`
	WriteMode           string  `yaml:"write_mode"`      // "write-back" | "write-through"
	EvictionPolicy      string  `yaml:"eviction_policy"` // "segmented-lru" | "lru"
	DisablePromotion    bool    `yaml:"disable_promotion"`
	DropOnEvict         bool    `yaml:"drop_on_evict"`
	IndexShards         int     `yaml:"index_shards"`
	CompactionLiveRatio float64 `yaml:"compaction_live_ratio"`
	CompactionInterval  string  `yaml:"compaction_interval"` // e.g. "45s"
	DisableCompaction   bool    `yaml:"disable_compaction"`
	SyncWrites          bool    `yaml:"sync_writes"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("tiercache: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("tiercache: parse config: %w", err)
	}
	return cfg, nil
}

// Options converts the file shape into Options. Fields left empty in the
// file stay zero and pick up New's defaults.
func (c Config) Options() (Options, error) {
	var opts Options
	var err error

	if opts.MemoryCapacity, err = parseSize(c.MemoryCapacity); err != nil {
		return opts, fmt.Errorf("tiercache: memory_capacity: %w", err)
	}
	if opts.DiskCapacity, err = parseSize(c.DiskCapacity); err != nil {
		return opts, fmt.Errorf("tiercache: disk_capacity: %w", err)
	}
	if opts.MaxFileSize, err = parseSize(c.MaxFileSize); err != nil {
		return opts, fmt.Errorf("tiercache: max_file_size: %w", err)
	}

	switch strings.ToLower(c.WriteMode) {
	case "", "write-back":
		opts.Mode = WriteBack
	case "write-through":
		opts.Mode = WriteThrough
	default:
		return opts, fmt.Errorf("tiercache: unknown write_mode %q", c.WriteMode)
	}

	if opts.Policy, err = policyByName(c.EvictionPolicy); err != nil {
		return opts, err
	}

	if c.CompactionInterval != "" {
		opts.CompactionInterval, err = time.ParseDuration(c.CompactionInterval)
		if err != nil {
			return opts, fmt.Errorf("tiercache: compaction_interval: %w", err)
		}
	}

	opts.Dir = c.Dir
	opts.DisablePromotion = c.DisablePromotion
	opts.DropOnEvict = c.DropOnEvict
	opts.IndexShards = c.IndexShards
	opts.CompactionLiveRatio = c.CompactionLiveRatio
	opts.DisableCompaction = c.DisableCompaction
	opts.SyncWrites = c.SyncWrites
	return opts, nil
}

func policyByName(name string) (policy.Policy, error) {
	switch strings.ToLower(name) {
	case "", "slru", "segmented-lru":
		return slru.New(slru.DefaultProtectedFraction), nil
	case "lru":
		return lru.New(), nil
	default:
		return nil, fmt.Errorf("tiercache: unknown eviction_policy %q", name)
	}
}

// parseSize parses "4096", "64KB", "256MB", "2GB". Empty means 0 (use the
// default).
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "GB"):
		mult, upper = 1<<30, strings.TrimSuffix(upper, "GB")
	case strings.HasSuffix(upper, "MB"):
		mult, upper = 1<<20, strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "KB"):
		mult, upper = 1<<10, strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "B"):
		upper = strings.TrimSuffix(upper, "B")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}
