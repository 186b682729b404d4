package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestLoadAppliesDefaults(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, v)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Storage.Type != "memory" {
		t.Fatalf("Storage.Type = %q, want memory", cfg.Storage.Type)
	}
	if cfg.Vectors.Dimensions != 384 {
		t.Fatalf("Vectors.Dimensions = %d, want 384", cfg.Vectors.Dimensions)
	}
	if cfg.Cache.MaxSize != 256*1024*1024 {
		t.Fatalf("Cache.MaxSize = %d, want 256MiB", cfg.Cache.MaxSize)
	}
	if !cfg.Cache.AutoTune {
		t.Fatal("Cache.AutoTune = false, want true by default")
	}
	if cfg.DefaultService != "default" {
		t.Fatalf("DefaultService = %q, want default", cfg.DefaultService)
	}
	if cfg.RealtimeUpdates.Enabled || cfg.RealtimeUpdates.Interval != 5000 {
		t.Fatalf("RealtimeUpdates = %+v, want disabled with a 5000ms interval", cfg.RealtimeUpdates)
	}
}

func TestParsedFlagsOverrideDefaults(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, v)

	if err := fs.Parse([]string{
		"--storage-type", "filesystem",
		"--storage-root", "/data/axiom",
		"--vectors-dimensions", "768",
		"--read-only",
		"--realtime-updates-enabled",
		"--realtime-updates-interval", "2000",
	}); err != nil {
		t.Fatalf("fs.Parse() = %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Storage.Type != "filesystem" {
		t.Fatalf("Storage.Type = %q, want filesystem (flag override)", cfg.Storage.Type)
	}
	if cfg.Storage.Root != "/data/axiom" {
		t.Fatalf("Storage.Root = %q, want /data/axiom (flag override)", cfg.Storage.Root)
	}
	if cfg.Vectors.Dimensions != 768 {
		t.Fatalf("Vectors.Dimensions = %d, want 768 (flag override)", cfg.Vectors.Dimensions)
	}
	if !cfg.ReadOnly {
		t.Fatal("ReadOnly = false, want true (flag override)")
	}
	if !cfg.RealtimeUpdates.Enabled || cfg.RealtimeUpdates.Interval != 2000 {
		t.Fatalf("RealtimeUpdates = %+v, want enabled with a 2000ms interval (flag override)", cfg.RealtimeUpdates)
	}
}

func TestCacheMaxSizeFlagOverride(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, v)

	if err := fs.Parse([]string{"--cache-max-size", "1048576"}); err != nil {
		t.Fatalf("fs.Parse() = %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Cache.MaxSize != 1048576 {
		t.Fatalf("Cache.MaxSize = %d, want 1048576 (flag override, exercises the cache-max-size<->cache.max_size bind mapping)", cfg.Cache.MaxSize)
	}
}
