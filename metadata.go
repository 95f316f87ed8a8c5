package assetpreview

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MetadataRecord describes an asset at one tier. Records handed out by
// MetadataStore are copies.
type MetadataRecord struct {
	Identity Identity
	Tier     Tier
	Fields   map[string]any
	// Partial is set when some fields could not be extracted; FieldErrors
	// names them.
	Partial     bool
	FieldErrors map[string]string
	Fingerprint string
	CreatedAt   time.Time
}

func (r *MetadataRecord) clone() *MetadataRecord {
	out := *r
	out.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		switch v := v.(type) {
		case []string:
			out.Fields[k] = append([]string(nil), v...)
		case map[string]int:
			out.Fields[k] = maps.Clone(v)
		default:
			out.Fields[k] = v
		}
	}
	if r.FieldErrors != nil {
		out.FieldErrors = maps.Clone(r.FieldErrors)
	}
	return &out
}

// Err returns an *ExtractionPartial for partial records, nil otherwise.
func (r *MetadataRecord) Err() error {
	if !r.Partial {
		return nil
	}
	fields := make(map[string]error, len(r.FieldErrors))
	for name, msg := range r.FieldErrors {
		fields[name] = errors.New(msg)
	}
	return &ExtractionPartial{Fields: fields}
}

// importFailed reports whether a full record was read from a failed import.
func (r *MetadataRecord) importFailed() bool {
	if r.Tier < Tier2 {
		return false
	}
	_, failed := r.FieldErrors["objects"]
	return failed
}

// MetadataStore caches basic and full records per identity, each tier in
// its own bounded LRU.
type MetadataStore struct {
	cfg     *config
	metrics *metrics
	mu      sync.RWMutex
	basic   *lru.Cache[string, *MetadataRecord]
	full    *lru.Cache[string, *MetadataRecord]
}

// NewMetadataStore creates a standalone store. Previewer creates its own.
func NewMetadataStore(options ...Option) (*MetadataStore, error) {
	cfg := defaultConfig()
	for _, option := range options {
		option(cfg)
	}
	m, err := newMetrics(cfg.registerer)
	if err != nil {
		return nil, err
	}
	return newMetadataStore(cfg, m)
}

func newMetadataStore(cfg *config, m *metrics) (*MetadataStore, error) {
	basic, err := lru.New[string, *MetadataRecord](cfg.metadataCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create basic metadata cache: %w", err)
	}
	full, err := lru.New[string, *MetadataRecord](cfg.metadataCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create full metadata cache: %w", err)
	}
	return &MetadataStore{cfg: cfg, metrics: m, basic: basic, full: full}, nil
}

func (ms *MetadataStore) layer(tier Tier) *lru.Cache[string, *MetadataRecord] {
	if tier >= Tier2 {
		return ms.full
	}
	return ms.basic
}

// Get returns the record of the identity at exactly tier.
func (ms *MetadataStore) Get(id Identity, tier Tier) (*MetadataRecord, bool) {
	rec, ok := ms.lookup(id, tier, "")
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// lookup drops records whose fingerprint no longer matches the source.
func (ms *MetadataStore) lookup(id Identity, tier Tier, fingerprint string) (*MetadataRecord, bool) {
	ms.mu.RLock()
	rec, ok := ms.layer(tier).Get(id.Path)
	ms.mu.RUnlock()

	if ok && fingerprint != "" && rec.Fingerprint != "" && rec.Fingerprint != fingerprint {
		ms.Invalidate(id)
		ok = false
	}
	result := "hit"
	if !ok {
		result = "miss"
	}
	ms.metrics.cacheRequests.WithLabelValues("metadata", result).Inc()
	return rec, ok
}

// Put stores a copy of rec under its identity and tier.
func (ms *MetadataStore) Put(rec *MetadataRecord) {
	stored := rec.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = ms.cfg.now()
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.layer(stored.Tier).Add(stored.Identity.Path, stored)
}

// Invalidate drops both tiers of the identity.
func (ms *MetadataStore) Invalidate(id Identity) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.basic.Remove(id.Path)
	ms.full.Remove(id.Path)
}

// Len returns the number of records per tier.
func (ms *MetadataStore) Len() (basic, full int) {
	return ms.basic.Len(), ms.full.Len()
}

// extractBasic builds the basic record from stat data and, for parseable
// kinds, the tier-1 record counts.
func (c *config) extractBasic(a asset) *MetadataRecord {
	rec := &MetadataRecord{
		Identity:    a.Identity,
		Tier:        Tier1,
		Fingerprint: a.fingerprint,
		CreatedAt:   c.now(),
		Fields: map[string]any{
			"name":       a.Name(),
			"kind":       a.Kind,
			"size_bytes": a.size,
			"modified":   a.modTime,
		},
	}
	if !Parseable(a.Kind) {
		return rec
	}
	summary, err := c.summarizeFile(a.Identity)
	if err != nil {
		rec.Partial = true
		rec.FieldErrors = map[string]string{"records": err.Error()}
		return rec
	}
	rec.Fields["records"] = maps.Clone(summary.Records)
	if summary.Estimated {
		rec.Fields["records_estimated"] = true
	}
	return rec
}

// extractFull reads the loaded objects of s. It must run before the session
// is closed. A field that cannot be computed is recorded in FieldErrors and
// the remaining fields are still extracted.
func (c *config) extractFull(a asset, s *Session) *MetadataRecord {
	rec := c.extractBasic(a)
	rec.Tier = Tier2
	fieldErrs := map[string]error{}
	for name, msg := range rec.FieldErrors {
		fieldErrs[name] = errors.New(msg)
	}

	if err := s.ImportErr(); err != nil {
		fieldErrs["objects"] = err
	}
	infos, describeErrs := s.describe()
	rec.Fields["object_count"] = len(s.Objects())

	typeCounts := map[string]int{}
	vertices, faces := 0, 0
	materials := map[string]struct{}{}
	animated := false
	start, end := 0.0, 0.0
	haveRange := false

	for _, info := range infos {
		typeCounts[info.Type]++
		vertices += info.Vertices
		faces += info.Faces
		for _, m := range info.Materials {
			if m == "" {
				fieldErrs["materials"] = fmt.Errorf("%s has an empty material reference", info.Ref)
				continue
			}
			materials[m] = struct{}{}
		}
		if info.Animated {
			animated = true
			if info.TimeEnd < info.TimeStart {
				fieldErrs["time_range"] = fmt.Errorf("%s has an inverted time range", info.Ref)
				continue
			}
			if !haveRange || info.TimeStart < start {
				start = info.TimeStart
			}
			if !haveRange || info.TimeEnd > end {
				end = info.TimeEnd
			}
			haveRange = true
		}
	}

	if len(describeErrs) > 0 {
		refs := make([]string, 0, len(describeErrs))
		for ref := range describeErrs {
			refs = append(refs, string(ref))
		}
		sort.Strings(refs)
		err := fmt.Errorf("%d object(s) could not be described: %v", len(refs), refs)
		for _, field := range []string{"type_counts", "vertex_count", "face_count"} {
			fieldErrs[field] = err
		}
	}

	rec.Fields["type_counts"] = typeCounts
	rec.Fields["vertex_count"] = vertices
	rec.Fields["face_count"] = faces

	names := make([]string, 0, len(materials))
	for m := range materials {
		names = append(names, m)
	}
	sort.Strings(names)
	rec.Fields["materials"] = names
	rec.Fields["animated"] = animated
	if haveRange {
		rec.Fields["time_start"] = start
		rec.Fields["time_end"] = end
	}

	if len(fieldErrs) > 0 {
		rec.Partial = true
		rec.FieldErrors = make(map[string]string, len(fieldErrs))
		for name, err := range fieldErrs {
			rec.FieldErrors[name] = err.Error()
		}
	}
	return rec
}
