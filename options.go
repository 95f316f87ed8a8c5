package assetpreview

import (
	"hash"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// HashFunc defines a function that creates a new hash.Hash instance.
type HashFunc func() hash.Hash

// NowFunc defines a function that returns the current time.
type NowFunc func() time.Time

// Option defines a function that configures a Previewer.
type Option func(*config)

const (
	defaultImageCacheSize    = 50
	defaultDisplayCacheSize  = 100
	defaultMetadataCacheSize = 200
	defaultTier1Concurrency  = 4
	defaultSummaryLimit      = 8 << 20
)

type config struct {
	fs                afero.Fs
	hashFunc          HashFunc
	nowFunc           NowFunc
	logger            zerolog.Logger
	registerer        prometheus.Registerer
	imageCacheSize    int
	displayCacheSize  int
	metadataCacheSize int
	persistDir        string
	tick              time.Duration
	tier1Concurrency  int64
	maxQueueDepth     int
	jobTimeout        time.Duration
	metadataSize      Size
	summaryLimit      int64
}

func defaultConfig() *config {
	return &config{
		fs:                afero.NewOsFs(),
		hashFunc:          defaultHashFunc,
		nowFunc:           time.Now,
		logger:            zerolog.Nop(),
		imageCacheSize:    defaultImageCacheSize,
		displayCacheSize:  defaultDisplayCacheSize,
		metadataCacheSize: defaultMetadataCacheSize,
		tier1Concurrency:  defaultTier1Concurrency,
		summaryLimit:      defaultSummaryLimit,
	}
}

func (c *config) now() time.Time {
	return c.nowFunc()
}

// defaultHashFunc returns the default hash function (xxHash64).
func defaultHashFunc() hash.Hash {
	return xxhash.New()
}

// WithFs sets the filesystem assets are read from and the disk cache is written to.
// This is primarily useful for testing with in-memory filesystems.
//
// Example:
//
//	p, err := assetpreview.New(host, assetpreview.WithFs(afero.NewMemMapFs()))
func WithFs(fs afero.Fs) Option {
	return func(c *config) {
		c.fs = fs
	}
}

// WithHashFunc sets a custom hash function for cache keys and fingerprints.
// The default is xxHash64.
//
// Note: Changing the hash function invalidates persisted cache entries.
func WithHashFunc(hashFunc HashFunc) Option {
	return func(c *config) {
		c.hashFunc = hashFunc
	}
}

// WithNowFunc sets a custom time function.
// This is primarily useful for testing with deterministic timestamps.
func WithNowFunc(nowFunc NowFunc) Option {
	return func(c *config) {
		c.nowFunc = nowFunc
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithRegisterer registers the pipeline metrics on reg.
// Without it metrics are kept on a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = reg
	}
}

// WithImageCacheSize bounds the number of cached images (default 50).
func WithImageCacheSize(n int) Option {
	return func(c *config) {
		c.imageCacheSize = n
	}
}

// WithDisplayCacheSize bounds the display handle layer (default 100).
func WithDisplayCacheSize(n int) Option {
	return func(c *config) {
		c.displayCacheSize = n
	}
}

// WithMetadataCacheSize bounds each metadata tier (default 200).
func WithMetadataCacheSize(n int) Option {
	return func(c *config) {
		c.metadataCacheSize = n
	}
}

// WithPersistDir enables the on-disk thumbnail layer rooted at dir.
// Entries are stored under manifests/ and objects/ below dir.
func WithPersistDir(dir string) Option {
	return func(c *config) {
		c.persistDir = dir
	}
}

// WithTick makes the host worker wait d between jobs, so that a host
// event loop gets at least one tick between two imports.
func WithTick(d time.Duration) Option {
	return func(c *config) {
		c.tick = d
	}
}

// WithTier1Concurrency bounds how many tier-1 jobs run at once (default 4).
func WithTier1Concurrency(n int) Option {
	return func(c *config) {
		c.tier1Concurrency = int64(n)
	}
}

// WithMaxQueueDepth bounds the number of queued jobs. Zero means unbounded.
func WithMaxQueueDepth(n int) Option {
	return func(c *config) {
		c.maxQueueDepth = n
	}
}

// WithJobTimeout fails tier-2 jobs that run longer than d.
// Cleanup still runs for timed out jobs.
func WithJobTimeout(d time.Duration) Option {
	return func(c *config) {
		c.jobTimeout = d
	}
}

// WithMetadataSize makes full metadata requests also render a thumbnail
// of the given size from the same import. The default imports for metadata only.
func WithMetadataSize(size Size) Option {
	return func(c *config) {
		c.metadataSize = size
	}
}

// WithSummaryLimit caps how many bytes of an .obj or .ma file tier 1 reads.
// Counts from a longer file are estimates. Zero reads whole files.
func WithSummaryLimit(n int64) Option {
	return func(c *config) {
		c.summaryLimit = n
	}
}
