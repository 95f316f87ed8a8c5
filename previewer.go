package assetpreview

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/disintegration/imaging"
)

// Previewer is the application-facing pipeline. It is safe for concurrent use.
type Previewer struct {
	cfg      *config
	host     Host
	metrics  *metrics
	cache    *CacheStore
	metadata *MetadataStore
	capture  *CaptureEngine
	queue    *GenerationQueue

	closeOnce sync.Once
}

// New creates a Previewer driving host. A nil host is allowed: tier-2
// requests then degrade to tier 1 with an ErrHostUnavailable warning.
//
// Example:
//
//	p, err := assetpreview.New(host,
//	    assetpreview.WithLogger(logger),
//	    assetpreview.WithPersistDir(".thumbs"),
//	)
func New(host Host, options ...Option) (*Previewer, error) {
	cfg := defaultConfig()
	for _, option := range options {
		option(cfg)
	}

	m, err := newMetrics(cfg.registerer)
	if err != nil {
		return nil, err
	}
	cache, err := newCacheStore(cfg, m)
	if err != nil {
		return nil, err
	}
	metadata, err := newMetadataStore(cfg, m)
	if err != nil {
		return nil, err
	}

	p := &Previewer{
		cfg:      cfg,
		host:     host,
		metrics:  m,
		cache:    cache,
		metadata: metadata,
		capture:  &CaptureEngine{cfg: cfg, host: host},
	}
	p.queue = newGenerationQueue(cfg, p, m)
	return p, nil
}

// RequestThumbnail asks for a preview of path at exactly size. A fresh
// cached image answers at once unless forceFull is set; an identical
// request in flight is joined. A missing file yields a failed handle.
func (p *Previewer) RequestThumbnail(ctx context.Context, path string, size Size, tier Tier, forceFull bool) (*Handle, error) {
	if !size.valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSize, size)
	}
	return p.request(ctx, jobThumbnail, path, size, tier, forceFull)
}

// RequestMetadata asks for the metadata record of path. Tier1 is the basic
// record; Tier2 imports the asset and extracts the full record.
func (p *Previewer) RequestMetadata(ctx context.Context, path string, tier Tier) (*Handle, error) {
	return p.request(ctx, jobMetadata, path, Size{}, tier, false)
}

func (p *Previewer) request(ctx context.Context, kind jobKind, path string, size Size, tier Tier, forceFull bool) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tier != Tier1 && tier != Tier2 {
		return nil, fmt.Errorf("unknown tier %d", tier)
	}

	a, err := p.cfg.resolveAsset(path)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			p.cfg.logger.Warn().Err(err).Str("path", path).Msg("cannot start job")
			p.metrics.jobs.WithLabelValues(tier.String(), JobFailed.String()).Inc()
			return completedHandle(Result{Size: size, Tier: tier}, err), nil
		}
		return nil, err
	}

	key, err := p.cfg.keyFor(a.Identity, size, tier)
	if err != nil {
		return nil, err
	}

	return p.queue.enqueue(&job{
		key:       kind.String() + ":" + key.hash,
		kind:      kind,
		asset:     a,
		size:      size,
		tier:      tier,
		forceFull: forceFull,
	})
}

// Invalidate drops everything cached for path and cancels its queued jobs.
// Running jobs for path finish but their results are discarded.
func (p *Previewer) Invalidate(path string) error {
	id, err := NewIdentity(p.cfg.fs, path)
	if err != nil {
		return err
	}
	if n := p.queue.cancelIdentity(id); n > 0 {
		p.cfg.logger.Debug().Str("path", id.Path).Int("jobs", n).Msg("cancelled jobs of invalidated asset")
	}
	p.cache.Invalidate(id)
	p.metadata.Invalidate(id)
	return nil
}

// Stats returns the image cache counters.
func (p *Previewer) Stats() CacheStats {
	return p.cache.Stats()
}

// DisplayHandle returns an independently owned handle for the best cached
// image of path at size.
func (p *Previewer) DisplayHandle(path string, size Size) (*DisplayHandle, error) {
	id, err := NewIdentity(p.cfg.fs, path)
	if err != nil {
		return nil, err
	}
	return p.cache.DisplayHandle(id, size)
}

// Cache returns the image cache.
func (p *Previewer) Cache() *CacheStore { return p.cache }

// Metadata returns the metadata store.
func (p *Previewer) Metadata() *MetadataStore { return p.metadata }

// QueueLen returns the number of jobs waiting to run.
func (p *Previewer) QueueLen() int { return p.queue.Len() }

// Close fails queued jobs with ErrClosed and waits for running jobs,
// including their cleanup.
func (p *Previewer) Close() error {
	p.closeOnce.Do(p.queue.close)
	return nil
}

func (p *Previewer) cached(j *job) (Result, bool) {
	switch j.kind {
	case jobMetadata:
		for tier := Tier2; tier >= j.tier; tier-- {
			if rec, ok := p.metadata.lookup(j.asset.Identity, tier, j.asset.fingerprint); ok {
				return Result{Identity: j.asset.Identity, Tier: tier, Metadata: rec.clone(), Cached: true}, true
			}
		}
		return Result{}, false
	default:
		entry, ok := p.cache.lookup(j.asset.Identity, j.size, j.tier, j.asset.fingerprint)
		if !ok {
			return Result{}, false
		}
		out := entry.copy()
		return Result{
			Identity: j.asset.Identity,
			Size:     j.size,
			Tier:     out.Tier,
			Image:    out.Image,
			Source:   out.Source,
			Cached:   true,
		}, true
	}
}

func (p *Previewer) execute(ctx context.Context, j *job) (Result, error) {
	if j.tier >= Tier2 {
		if p.host == nil {
			res, err := p.executeTier1(ctx, j)
			res.Warnings = append(res.Warnings, ErrHostUnavailable)
			return res, err
		}
		return p.executeTier2(ctx, j)
	}
	return p.executeTier1(ctx, j)
}

func (p *Previewer) executeTier1(ctx context.Context, j *job) (Result, error) {
	res := Result{Identity: j.asset.Identity, Size: j.size, Tier: Tier1}
	if j.kind == jobMetadata {
		res.Metadata = p.cfg.extractBasic(j.asset)
		if err := res.Metadata.Err(); err != nil {
			res.Warnings = append(res.Warnings, err)
		}
		return res, nil
	}
	capture := p.capture.CaptureTier1(ctx, j.asset.Identity, j.size)
	res.Image, res.Source = capture.Image, capture.Source
	res.Warnings = append(res.Warnings, capture.Errors...)
	p.metrics.captureSources.WithLabelValues(capture.Source.String()).Inc()
	return res, nil
}

// executeTier2 imports the asset into a fresh sandbox session, captures and
// extracts from it, and always closes the session. Extraction finishes
// before cleanup starts.
func (p *Previewer) executeTier2(ctx context.Context, j *job) (res Result, err error) {
	res = Result{Identity: j.asset.Identity, Size: j.size, Tier: Tier2}

	if p.cfg.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.jobTimeout)
		defer cancel()
	}

	s, openErr := openSession(p.cfg, p.host)
	if openErr != nil {
		p.cfg.logger.Warn().Err(openErr).Str("path", j.asset.Path).Msg("failed to open sandbox session, degrading to tier 1")
		res, err = p.executeTier1(ctx, j)
		res.Warnings = append(res.Warnings, fmt.Errorf("%w: %v", ErrHostUnavailable, openErr))
		return res, err
	}

	defer func() {
		report := s.Close(ctx)
		if res.Metadata != nil {
			res.Metadata.Fields["namespace_clean"] = report.Clean()
		}
		if residue := report.Err(); residue != nil {
			p.metrics.cleanupResidue.Add(float64(len(report.Residue)))
			res.Warnings = append(res.Warnings, residue)
		}
		if err == nil && ctx.Err() != nil {
			err = fmt.Errorf("tier-2 job for %s did not finish in time: %w", j.asset.Path, ctx.Err())
		}
	}()

	if _, importErr := s.Load(ctx, j.asset.Identity); importErr != nil {
		p.cfg.logger.Warn().Err(importErr).Str("path", j.asset.Path).Str("session", s.ID()).Msg("import failed")
		res.Warnings = append(res.Warnings, importErr)
	}

	size := j.size
	if j.kind == jobMetadata {
		size = p.cfg.metadataSize
	}
	if size.valid() {
		capture := p.capture.CaptureTier2(ctx, s, j.asset.Identity, size)
		res.Image, res.Source, res.Size = capture.Image, capture.Source, size
		res.Warnings = append(res.Warnings, capture.Errors...)
		p.metrics.captureSources.WithLabelValues(capture.Source.String()).Inc()
	}

	res.Metadata = p.cfg.extractFull(j.asset, s)
	if err := res.Metadata.Err(); err != nil {
		res.Warnings = append(res.Warnings, err)
	}
	return res, nil
}

// apply writes a finished job into the stores. Error placeholders from
// tier 2 are not cached so a good tier-1 image stays the best available.
// Full records of failed imports are not cached either, so the next full
// request imports again.
func (p *Previewer) apply(j *job, res Result) {
	if res.Image != nil && res.Size.valid() && !(res.Tier >= Tier2 && res.Source == SourceErrorPlaceholder) {
		err := p.cache.put(&CacheEntry{
			Identity:    j.asset.Identity,
			Size:        res.Size,
			Image:       imaging.Clone(res.Image),
			Tier:        res.Tier,
			Source:      res.Source,
			Fingerprint: j.asset.fingerprint,
		})
		if err != nil {
			p.cfg.logger.Warn().Err(err).Str("path", j.asset.Path).Msg("failed to cache preview")
		}
	}
	if res.Metadata != nil && !res.Metadata.importFailed() {
		p.metadata.Put(res.Metadata)
	}
}
