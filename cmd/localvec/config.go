package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/localvec"
	"github.com/hupe1980/localvec/blobstore"
	miniostore "github.com/hupe1980/localvec/blobstore/minio"
	s3store "github.com/hupe1980/localvec/blobstore/s3"
	"github.com/hupe1980/localvec/broadcast"
	"github.com/hupe1980/localvec/cleanup"
	"github.com/hupe1980/localvec/distance"
	"github.com/hupe1980/localvec/hnsw"
	"github.com/hupe1980/localvec/lock"
	"github.com/hupe1980/localvec/quota"
	"github.com/hupe1980/localvec/storage"
	"github.com/hupe1980/localvec/storage/badger"
	"github.com/hupe1980/localvec/storage/memory"
	"github.com/hupe1980/localvec/storage/sqlite"
)

// Config is the YAML configuration of the CLI.
type Config struct {
	// Backend is one of memory, badger or sqlite.
	Backend string `yaml:"backend"`

	// Path is the badger directory or the sqlite file.
	Path string `yaml:"path"`

	Collection string          `yaml:"collection"`
	Dimension  int             `yaml:"dimension"`
	Metric     distance.Metric `yaml:"metric"`

	HNSW    HNSWConfig    `yaml:"hnsw"`
	Lock    LockConfig    `yaml:"lock"`
	Cleanup CleanupConfig `yaml:"cleanup"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
}

// HNSWConfig overrides index parameters. Zero values keep the defaults.
type HNSWConfig struct {
	M              int  `yaml:"m"`
	EfConstruction int  `yaml:"efConstruction"`
	EfSearch       int  `yaml:"efSearch"`
	Heuristic      bool `yaml:"heuristic"`
}

// LockConfig selects the cross-process coordination.
type LockConfig struct {
	// Kind is local or file. With file, change events travel over unix
	// sockets in the same directory.
	Kind    string        `yaml:"kind"`
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
}

// CleanupConfig holds the defaults of the cleanup command.
type CleanupConfig struct {
	MaxAge             string  `yaml:"maxAge"`
	KeepMinCount       int     `yaml:"keepMinCount"`
	TargetUsagePercent float64 `yaml:"targetUsagePercent"`
	BatchSize          int     `yaml:"batchSize"`
	Schedule           string  `yaml:"schedule"`
	QuotaBytes         int64   `yaml:"quotaBytes"`
}

// StoreConfig locates export bundles.
type StoreConfig struct {
	// Kind is local, s3 or minio.
	Kind     string `yaml:"kind"`
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Secure   bool   `yaml:"secure"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig is used when no file is given.
var DefaultConfig = Config{
	Backend:    "badger",
	Path:       "./data",
	Collection: localvec.DefaultCollection,
	Lock:       LockConfig{Kind: "local"},
	Store:      StoreConfig{Kind: "local", Dir: "./exports"},
	Log:        LogConfig{Level: "warn", Format: "text"},
}

// LoadConfig reads path over DefaultConfig. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

func (c Config) logger() (*localvec.Logger, error) {
	level := slog.LevelWarn
	if c.Log.Level != "" {
		if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		return localvec.NewTextLogger(level), nil
	case "json":
		return localvec.NewJSONLogger(level), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Log.Format)
	}
}

func (c Config) backend(logger *slog.Logger) (storage.Backend, error) {
	switch strings.ToLower(c.Backend) {
	case "memory":
		return memory.New(), nil
	case "badger":
		if c.Path == "" {
			return nil, errors.New("badger backend requires a path")
		}

		return badger.New(func(o *badger.Options) {
			o.Dir = c.Path
			o.Logger = logger
		}), nil
	case "sqlite":
		return sqlite.New(func(o *sqlite.Options) {
			if c.Path != "" {
				o.Path = c.Path
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

func (c Config) hnswOptions(o *hnsw.Options) {
	if c.HNSW.M > 0 {
		o.M = c.HNSW.M
	}

	if c.HNSW.EfConstruction > 0 {
		o.EfConstruction = c.HNSW.EfConstruction
	}

	if c.HNSW.EfSearch > 0 {
		o.EfSearch = c.HNSW.EfSearch
	}

	if c.HNSW.Heuristic {
		o.Heuristic = true
	}
}

// openDB opens the configured backend. The returned close function also
// releases the broadcaster created for file coordination.
func (c Config) openDB(ctx context.Context) (*localvec.DB, func() error, error) {
	logger, err := c.logger()
	if err != nil {
		return nil, nil, err
	}

	backend, err := c.backend(logger.Logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []localvec.Option{
		localvec.WithLogger(logger),
		localvec.WithMetric(c.Metric),
		localvec.WithHNSW(c.hnswOptions),
		localvec.WithDefaultCollection(c.Collection),
		localvec.WithLockTimeout(c.Lock.Timeout),
	}

	if c.Dimension > 0 {
		opts = append(opts, localvec.WithDimension(c.Dimension))
	}

	if c.Cleanup.QuotaBytes > 0 || (c.Path != "" && backend.Persistent()) {
		opts = append(opts, localvec.WithQuota(func(o *quota.Options) {
			o.QuotaBytes = c.Cleanup.QuotaBytes
			o.Path = c.Path
		}))
	}

	var bus broadcast.Broadcaster

	switch strings.ToLower(c.Lock.Kind) {
	case "", "local":
	case "file":
		if c.Lock.Dir == "" {
			return nil, nil, errors.New("file lock requires lock.dir")
		}

		sock, err := broadcast.NewSocket(c.Lock.Dir, func(o *broadcast.SocketOptions) {
			o.Logger = logger.Logger
		})
		if err != nil {
			return nil, nil, err
		}

		bus = sock
		opts = append(opts, localvec.WithLocker(lock.NewFile(c.Lock.Dir)), localvec.WithBroadcaster(sock))
	default:
		return nil, nil, fmt.Errorf("unknown lock kind %q", c.Lock.Kind)
	}

	db, err := localvec.Open(ctx, backend, opts...)
	if err != nil {
		if bus != nil {
			_ = bus.Close()
		}

		return nil, nil, err
	}

	closeFn := func() error {
		err := db.Close(context.WithoutCancel(ctx))
		if bus != nil {
			err = errors.Join(err, bus.Close())
		}

		return err
	}

	return db, closeFn, nil
}

func (c Config) store(ctx context.Context) (blobstore.Store, error) {
	switch strings.ToLower(c.Store.Kind) {
	case "", "local":
		return blobstore.NewLocalStore(c.Store.Dir), nil
	case "s3":
		if c.Store.Bucket == "" {
			return nil, errors.New("s3 store requires a bucket")
		}

		return s3store.New(ctx, c.Store.Bucket, func(o *s3store.Options) {
			o.Prefix = c.Store.Prefix
			o.Region = c.Store.Region
		})
	case "minio":
		if c.Store.Bucket == "" || c.Store.Endpoint == "" {
			return nil, errors.New("minio store requires an endpoint and a bucket")
		}

		client, err := minio.New(c.Store.Endpoint, &minio.Options{
			Creds:  credentials.NewEnvMinio(),
			Secure: c.Store.Secure,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}

		return miniostore.NewStore(client, c.Store.Bucket, c.Store.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
}

func (c Config) cleanupOptions() ([]func(*cleanup.Options), error) {
	var maxAge time.Duration

	if c.Cleanup.MaxAge != "" {
		d, err := cleanup.ParseAge(c.Cleanup.MaxAge)
		if err != nil {
			return nil, err
		}

		maxAge = d
	}

	return []func(*cleanup.Options){func(o *cleanup.Options) {
		o.MaxAge = maxAge
		o.KeepMinCount = c.Cleanup.KeepMinCount
		o.TargetUsagePercent = c.Cleanup.TargetUsagePercent

		if c.Cleanup.BatchSize > 0 {
			o.BatchSize = c.Cleanup.BatchSize
		}
	}}, nil
}
