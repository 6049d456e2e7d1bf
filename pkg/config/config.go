// Package config loads and validates shardprep configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// stage (Interleave, Merge, Shuffle, Balance) and every side channel
// (Metrics, Redis, Kafka, Postgres, Report, Publish).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Dataset    DatasetConfig    `yaml:"dataset"`
	Interleave InterleaveConfig `yaml:"interleave"`
	Merge      MergeConfig      `yaml:"merge"`
	Shuffle    ShuffleConfig    `yaml:"shuffle"`
	Balance    BalanceConfig    `yaml:"balance"`
	ShardFile  ShardFileConfig  `yaml:"shardFile"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Report     ReportConfig     `yaml:"report"`
	Publish    PublishConfig    `yaml:"publish"`
}

// DatasetConfig holds the directory layout and the corpus shape.
type DatasetConfig struct {
	SourceDir    string `yaml:"sourceDir"`
	PartitionDir string `yaml:"partitionDir"`
	MergedDir    string `yaml:"mergedDir"`
	BalancedDir  string `yaml:"balancedDir"`
	FilePrefix   string `yaml:"filePrefix"`
	NumShards    int    `yaml:"numShards"`
	Dimension    int    `yaml:"dimension"`
}

// InterleaveConfig controls the round-robin micro-chunk grid.
type InterleaveConfig struct {
	RoundsPerShard int `yaml:"roundsPerShard"`
	WriteBatchSize int `yaml:"writeBatchSize"`
}

// MergeConfig controls the streaming merge batch size and storage backpressure.
type MergeConfig struct {
	BatchSize        int           `yaml:"batchSize"`
	Cooldown         time.Duration `yaml:"cooldown"`
	MaxRowsPerSecond int           `yaml:"maxRowsPerSecond"`
	ProgressEvery    int           `yaml:"progressEvery"`
}

// ShuffleConfig controls the seeded permutation of each merged shard.
type ShuffleConfig struct {
	Seed         uint64        `yaml:"seed"`
	PerShardSeed bool          `yaml:"perShardSeed"`
	Cooldown     time.Duration `yaml:"cooldown"`
}

// BalanceConfig names the balancing policy explicitly. Empty shard groups are
// filled in by Validate: the first half of the shards are sources and the
// rest are sinks. AbsorberShard -1 selects the last sink.
type BalanceConfig struct {
	TargetCount   int           `yaml:"targetCount"`
	SourceShards  []int         `yaml:"sourceShards"`
	SinkShards    []int         `yaml:"sinkShards"`
	AbsorberShard int           `yaml:"absorberShard"`
	Cooldown      time.Duration `yaml:"cooldown"`
}

// ShardFileConfig controls the Parquet encoding of every file the pipeline writes.
type ShardFileConfig struct {
	Compression  string `yaml:"compression"`
	RowGroupSize int    `yaml:"rowGroupSize"`
	ReadBatch    int    `yaml:"readBatch"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// RedisConfig holds Redis connection parameters for the summary sink.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"poolSize"`
	KeyPrefix string        `yaml:"keyPrefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ShardReady   string `yaml:"shardReady"`
	RunCompleted string `yaml:"runCompleted"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// ReportConfig selects which sinks receive the final summary.
type ReportConfig struct {
	Redis       bool          `yaml:"redis"`
	Kafka       bool          `yaml:"kafka"`
	Postgres    bool          `yaml:"postgres"`
	SinkTimeout time.Duration `yaml:"sinkTimeout"`
}

// PublishConfig selects the object store that receives the balanced shards.
// An empty Backend disables publishing.
type PublishConfig struct {
	Backend   string `yaml:"backend"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config populated with the production batch defaults.
func Default() *Config {
	return &Config{
		Dataset: DatasetConfig{
			SourceDir:    "/data/raw_data",
			PartitionDir: "/data/extracted_datasets",
			MergedDir:    "/data/final_dataset",
			BalancedDir:  "/data/final_dataset_balanced",
			FilePrefix:   "shuffle_train",
			NumShards:    10,
			Dimension:    1024,
		},
		Interleave: InterleaveConfig{
			RoundsPerShard: 10,
			WriteBatchSize: 5000,
		},
		Merge: MergeConfig{
			BatchSize:     5000,
			Cooldown:      10 * time.Second,
			ProgressEvery: 10,
		},
		Shuffle: ShuffleConfig{
			Seed:     42,
			Cooldown: 5 * time.Second,
		},
		Balance: BalanceConfig{
			TargetCount:   1_000_000,
			AbsorberShard: -1,
			Cooldown:      5 * time.Second,
		},
		ShardFile: ShardFileConfig{
			Compression:  "zstd",
			RowGroupSize: 5000,
			ReadBatch:    5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  4,
			KeyPrefix: "shardprep",
			TTL:       7 * 24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				ShardReady:   "shardprep.shard-ready",
				RunCompleted: "shardprep.run-completed",
			},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "shardprep",
			User:            "shardprep",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    2,
			MaxIdleConns:    1,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Report: ReportConfig{
			SinkTimeout: 10 * time.Second,
		},
		Publish: PublishConfig{
			Region: "us-east-1",
			UseSSL: true,
		},
	}
}

// Validate checks every stage parameter and fills in the default balancing
// groups when none were configured.
func (c *Config) Validate() error {
	d := c.Dataset
	switch {
	case d.NumShards <= 0:
		return invalid("dataset.numShards must be positive, got %d", d.NumShards)
	case d.Dimension <= 0:
		return invalid("dataset.dimension must be positive, got %d", d.Dimension)
	case d.FilePrefix == "":
		return invalid("dataset.filePrefix must not be empty")
	case c.Interleave.RoundsPerShard <= 0:
		return invalid("interleave.roundsPerShard must be positive, got %d", c.Interleave.RoundsPerShard)
	case c.Interleave.WriteBatchSize <= 0:
		return invalid("interleave.writeBatchSize must be positive, got %d", c.Interleave.WriteBatchSize)
	case c.Merge.BatchSize <= 0:
		return invalid("merge.batchSize must be positive, got %d", c.Merge.BatchSize)
	case c.Merge.MaxRowsPerSecond < 0:
		return invalid("merge.maxRowsPerSecond must not be negative")
	case c.Merge.Cooldown < 0 || c.Shuffle.Cooldown < 0 || c.Balance.Cooldown < 0:
		return invalid("cooldowns must not be negative")
	case c.Balance.TargetCount < 0:
		return invalid("balance.targetCount must not be negative")
	case c.ShardFile.RowGroupSize <= 0 || c.ShardFile.ReadBatch <= 0:
		return invalid("shardFile.rowGroupSize and shardFile.readBatch must be positive")
	}
	switch c.ShardFile.Compression {
	case "zstd", "snappy", "gzip", "none":
	default:
		return invalid("shardFile.compression %q is not one of zstd, snappy, gzip, none", c.ShardFile.Compression)
	}
	switch c.Publish.Backend {
	case "", "minio", "s3":
	default:
		return invalid("publish.backend %q is not one of minio, s3", c.Publish.Backend)
	}
	if c.Publish.Backend != "" && c.Publish.Bucket == "" {
		return invalid("publish.bucket is required when publish.backend is set")
	}

	if len(c.Balance.SourceShards) == 0 && len(c.Balance.SinkShards) == 0 {
		half := d.NumShards / 2
		for i := 0; i < d.NumShards; i++ {
			if i < half {
				c.Balance.SourceShards = append(c.Balance.SourceShards, i)
			} else {
				c.Balance.SinkShards = append(c.Balance.SinkShards, i)
			}
		}
	}
	return c.validateBalanceGroups()
}

func (c *Config) validateBalanceGroups() error {
	b := c.Balance
	if len(b.SinkShards) == 0 {
		return invalid("balance.sinkShards must name at least one shard")
	}
	seen := make(map[int]string, len(b.SourceShards)+len(b.SinkShards))
	check := func(group string, shards []int) error {
		for _, s := range shards {
			if s < 0 || s >= c.Dataset.NumShards {
				return invalid("balance.%s contains shard %d outside 0-%d", group, s, c.Dataset.NumShards-1)
			}
			if prev, ok := seen[s]; ok {
				return invalid("shard %d appears in both balance.%s and balance.%s", s, prev, group)
			}
			seen[s] = group
		}
		return nil
	}
	if err := check("sourceShards", b.SourceShards); err != nil {
		return err
	}
	if err := check("sinkShards", b.SinkShards); err != nil {
		return err
	}
	if b.AbsorberShard >= 0 && seen[b.AbsorberShard] != "sinkShards" {
		return invalid("balance.absorberShard %d is not a sink shard", b.AbsorberShard)
	}
	return nil
}

// Absorber returns the shard index that receives all leftover excess.
func (b BalanceConfig) Absorber() int {
	if b.AbsorberShard >= 0 {
		return b.AbsorberShard
	}
	if len(b.SinkShards) == 0 {
		return -1
	}
	return b.SinkShards[len(b.SinkShards)-1]
}

func invalid(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitInvalidConfig, format, args...)
}

// applyEnvOverrides reads SHARDPREP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHARDPREP_SOURCE_DIR"); v != "" {
		cfg.Dataset.SourceDir = v
	}
	if v := os.Getenv("SHARDPREP_PARTITION_DIR"); v != "" {
		cfg.Dataset.PartitionDir = v
	}
	if v := os.Getenv("SHARDPREP_MERGED_DIR"); v != "" {
		cfg.Dataset.MergedDir = v
	}
	if v := os.Getenv("SHARDPREP_BALANCED_DIR"); v != "" {
		cfg.Dataset.BalancedDir = v
	}
	if v := os.Getenv("SHARDPREP_NUM_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dataset.NumShards = n
		}
	}
	if v := os.Getenv("SHARDPREP_TARGET_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Balance.TargetCount = n
		}
	}
	if v := os.Getenv("SHARDPREP_SHUFFLE_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Shuffle.Seed = n
		}
	}
	if v := os.Getenv("SHARDPREP_MERGE_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Merge.Cooldown = d
		}
	}
	if v := os.Getenv("SHARDPREP_SHUFFLE_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Shuffle.Cooldown = d
		}
	}
	if v := os.Getenv("SHARDPREP_BALANCE_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Balance.Cooldown = d
		}
	}
	if v := os.Getenv("SHARDPREP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SHARDPREP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SHARDPREP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SHARDPREP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SHARDPREP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SHARDPREP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SHARDPREP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SHARDPREP_PUBLISH_ACCESS_KEY"); v != "" {
		cfg.Publish.AccessKey = v
	}
	if v := os.Getenv("SHARDPREP_PUBLISH_SECRET_KEY"); v != "" {
		cfg.Publish.SecretKey = v
	}
}
