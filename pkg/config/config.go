// Package config binds the process-wide configuration keys of spec §6 to a
// typed Config struct via viper, with pflag registering the same keys as
// CLI flags for cmd/axiomgraph.
package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// StorageConfig selects and scopes the C1 adapter.
type StorageConfig struct {
	Type   string `mapstructure:"type"`
	Prefix string `mapstructure:"prefix"`

	Root string `mapstructure:"root"` // filesystem adapter root directory

	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"` // non-empty for GCS/R2 S3-compat targets
}

// VectorsConfig controls embedding dimension and model selection.
type VectorsConfig struct {
	Dimensions int    `mapstructure:"dimensions"`
	Model      string `mapstructure:"model"`
}

// CacheConfig sizes C5.
type CacheConfig struct {
	MaxSize  int64 `mapstructure:"max_size"`
	AutoTune bool  `mapstructure:"auto_tune"`
}

// MetadataIndexConfig scopes and tunes C3.
type MetadataIndexConfig struct {
	IndexedFields    []string `mapstructure:"indexedFields"`
	ExcludeFields    []string `mapstructure:"excludeFields"`
	MaxIndexSize     int      `mapstructure:"maxIndexSize"`
	RebuildThreshold int      `mapstructure:"rebuildThreshold"`
	AutoOptimize     bool     `mapstructure:"autoOptimize"`
}

// IntelligentVerbScoringConfig is the §4.7 optional verb-scoring feature.
type IntelligentVerbScoringConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Semantic       bool    `mapstructure:"semantic"`
	Frequency      bool    `mapstructure:"frequency"`
	Temporal       bool    `mapstructure:"temporal"`
	BaseConfidence float64 `mapstructure:"baseConfidence"`
	LearningRate   float64 `mapstructure:"learningRate"`
}

// RealtimeUpdatesConfig governs background reload of externally mutated
// index singletons (wired to fsnotify watching the filesystem adapter root).
type RealtimeUpdatesConfig struct {
	Enabled  bool  `mapstructure:"enabled"`
	Interval int64 `mapstructure:"interval"` // milliseconds
}

// Config is the fully-bound process configuration.
type Config struct {
	Storage                StorageConfig                `mapstructure:"storage"`
	Vectors                VectorsConfig                `mapstructure:"vectors"`
	Cache                  CacheConfig                  `mapstructure:"cache"`
	MetadataIndex          MetadataIndexConfig          `mapstructure:"metadataIndex"`
	IntelligentVerbScoring IntelligentVerbScoringConfig `mapstructure:"intelligentVerbScoring"`
	DefaultService         string                       `mapstructure:"defaultService"`
	ReadOnly               bool                         `mapstructure:"readOnly"`
	Frozen                 bool                         `mapstructure:"frozen"`
	RealtimeUpdates        RealtimeUpdatesConfig        `mapstructure:"realtimeUpdates"`

	HNSWCacheStrategyThreshold int `mapstructure:"hnsw.cache_strategy_threshold"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("vectors.dimensions", 384)
	v.SetDefault("cache.max_size", int64(256*1024*1024))
	v.SetDefault("cache.auto_tune", true)
	v.SetDefault("metadataIndex.maxIndexSize", 0)
	v.SetDefault("metadataIndex.rebuildThreshold", 10000)
	v.SetDefault("metadataIndex.autoOptimize", true)
	v.SetDefault("intelligentVerbScoring.enabled", false)
	v.SetDefault("intelligentVerbScoring.baseConfidence", 0.5)
	v.SetDefault("intelligentVerbScoring.learningRate", 0.05)
	v.SetDefault("defaultService", "default")
	v.SetDefault("readOnly", false)
	v.SetDefault("frozen", false)
	v.SetDefault("realtimeUpdates.enabled", false)
	v.SetDefault("realtimeUpdates.interval", 5000)
	v.SetDefault("hnsw.cache_strategy_threshold", 10000)
}

// RegisterFlags sets the defaults of every config key in v and registers
// the storage, vectors, cache, defaultService, readOnly, frozen and
// realtimeUpdates keys as pflag CLI flags on fs, bound into v so cobra
// commands can simply call Load after parsing. The metadataIndex.*,
// intelligentVerbScoring.* and hnsw.* keys have no CLI flag.
func RegisterFlags(fs *pflag.FlagSet, v *viper.Viper) {
	defaults(v)

	fs.String("storage-type", v.GetString("storage.type"), "storage adapter: memory, filesystem, s3, gcs, r2, opfs")
	fs.String("storage-prefix", v.GetString("storage.prefix"), "key-space namespace prefix")
	fs.String("storage-root", "", "filesystem adapter root directory")
	fs.String("storage-s3-bucket", "", "S3-family bucket name")
	fs.String("storage-s3-region", "", "S3-family region")
	fs.String("storage-s3-endpoint", "", "S3-compat endpoint override (GCS/R2)")
	fs.Int("vectors-dimensions", v.GetInt("vectors.dimensions"), "embedding vector dimension D")
	fs.String("vectors-model", "", "embedder selector (informational)")
	fs.Int64("cache-max-size", v.GetInt64("cache.max_size"), "cache byte budget")
	fs.Bool("cache-auto-tune", v.GetBool("cache.auto_tune"), "enable C10 resource-sensor cache sizing")
	fs.String("default-service", v.GetString("defaultService"), "service tag attached to writes")
	fs.Bool("read-only", v.GetBool("readOnly"), "reject mutating operations")
	fs.Bool("frozen", v.GetBool("frozen"), "read-only plus no background maintenance")
	fs.Bool("realtime-updates-enabled", v.GetBool("realtimeUpdates.enabled"), "watch the filesystem storage root for externally mutated index singletons")
	fs.Int64("realtime-updates-interval", v.GetInt64("realtimeUpdates.interval"), "debounce interval in milliseconds between reloads of the same singleton")

	bind(v, fs, map[string]string{
		"storage-type":              "storage.type",
		"storage-prefix":            "storage.prefix",
		"storage-root":              "storage.root",
		"storage-s3-bucket":         "storage.s3_bucket",
		"storage-s3-region":         "storage.s3_region",
		"storage-s3-endpoint":       "storage.s3_endpoint",
		"vectors-dimensions":        "vectors.dimensions",
		"vectors-model":             "vectors.model",
		"cache-max-size":            "cache.max_size",
		"cache-auto-tune":           "cache.auto_tune",
		"default-service":           "defaultService",
		"read-only":                 "readOnly",
		"frozen":                    "frozen",
		"realtime-updates-enabled":  "realtimeUpdates.enabled",
		"realtime-updates-interval": "realtimeUpdates.interval",
	})
}

// bind ties each CLI flag to its dotted viper/config key, since flag names
// use hyphens for shell ergonomics while Config's mapstructure tags use the
// dotted/camelCase keys from spec §6.
func bind(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for flagName, configKey := range keys {
		if err := v.BindPFlag(configKey, fs.Lookup(flagName)); err != nil {
			panic(err) // flag names above are registered just above; a lookup miss is a programming error
		}
	}
}

// Load builds a Config from v, after flags/env/file have been merged into
// it by the caller.
func Load(v *viper.Viper) (Config, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	// Unmarshal sees "hnsw.cache_strategy_threshold" as a nested key, which
	// the dotted mapstructure tag on the field cannot match.
	cfg.HNSWCacheStrategyThreshold = v.GetInt("hnsw.cache_strategy_threshold")
	return cfg, nil
}
