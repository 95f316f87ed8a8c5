package assetpreview

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Source records which capture step produced an image.
type Source int

const (
	SourceNone Source = iota
	// SourceSynthetic is the tier-1 structural glyph.
	SourceSynthetic
	// SourcePlaceholder is the tier-1 labeled placeholder.
	SourcePlaceholder
	// SourceRender is a real offscreen capture of imported content.
	SourceRender
	// SourceApproximation is a wireframe-style drawing of imported content.
	SourceApproximation
	// SourceErrorPlaceholder is the placeholder every capture bottoms out at.
	SourceErrorPlaceholder
)

func (s Source) String() string {
	switch s {
	case SourceSynthetic:
		return "synthetic"
	case SourcePlaceholder:
		return "placeholder"
	case SourceRender:
		return "render"
	case SourceApproximation:
		return "approximation"
	case SourceErrorPlaceholder:
		return "error-placeholder"
	default:
		return "none"
	}
}

// Degraded reports whether the image stands in for a failed real capture.
func (s Source) Degraded() bool {
	return s == SourceApproximation || s == SourceErrorPlaceholder
}

// Capture is the outcome of a capture: always an image of the requested size.
type Capture struct {
	Image  *image.NRGBA
	Source Source
	// Errors holds the failures of the steps that were skipped over.
	Errors []error
}

// CaptureEngine produces preview images.
type CaptureEngine struct {
	cfg  *config
	host Host
}

// NewCaptureEngine returns an engine that renders through host. A nil host
// limits the engine to tier 1 and the fallbacks.
func NewCaptureEngine(host Host, options ...Option) *CaptureEngine {
	cfg := defaultConfig()
	for _, option := range options {
		option(cfg)
	}
	return &CaptureEngine{cfg: cfg, host: host}
}

// CaptureTier1 renders a representation from the file alone. It never
// touches the host workspace.
func (ce *CaptureEngine) CaptureTier1(ctx context.Context, id Identity, size Size) Capture {
	_, span := tracer.Start(ctx, "capture.tier1", trace.WithAttributes(
		attribute.String("path", id.Path),
		attribute.String("size", size.String()),
	))
	defer span.End()

	img, err := guard(func() (*image.NRGBA, error) {
		s, err := ce.cfg.summarizeFile(id)
		if err != nil {
			return nil, err
		}
		return drawSummary(s, size), nil
	})
	if err == nil {
		return Capture{Image: img, Source: SourceSynthetic}
	}

	if errors.Is(err, errNotParseable) {
		return ce.placeholder(id, size, SourcePlaceholder, nil)
	}

	ce.cfg.logger.Debug().Err(err).Str("path", id.Path).Msg("tier-1 summary failed, using placeholder")
	return ce.placeholder(id, size, SourceErrorPlaceholder, []error{&CaptureFailure{Step: "summary", Err: err}})
}

// CaptureTier2 renders the content loaded in s. Each fallback step runs
// only when the previous one failed: render, approximation, error placeholder.
func (ce *CaptureEngine) CaptureTier2(ctx context.Context, s *Session, id Identity, size Size) Capture {
	ctx, span := tracer.Start(ctx, "capture.tier2", trace.WithAttributes(
		attribute.String("path", id.Path),
		attribute.String("size", size.String()),
	))
	defer span.End()

	var failures []error

	img, err := guard(func() (*image.NRGBA, error) { return ce.render(ctx, s, size) })
	if err == nil {
		return Capture{Image: img, Source: SourceRender}
	}
	failures = append(failures, &CaptureFailure{Step: "render", Err: err})
	ce.cfg.logger.Warn().Err(err).Str("path", id.Path).Msg("offscreen capture failed, drawing approximation")

	img, err = guard(func() (*image.NRGBA, error) { return ce.approximate(s, id, size) })
	if err == nil {
		return Capture{Image: img, Source: SourceApproximation, Errors: failures}
	}
	failures = append(failures, &CaptureFailure{Step: "approximation", Err: err})
	ce.cfg.logger.Warn().Err(err).Str("path", id.Path).Msg("approximation failed, using error placeholder")

	return ce.placeholder(id, size, SourceErrorPlaceholder, failures)
}

// render frames the session's objects and captures at twice the requested
// size, then downsamples.
func (ce *CaptureEngine) render(ctx context.Context, s *Session, size Size) (*image.NRGBA, error) {
	if ce.host == nil {
		return nil, ErrHostUnavailable
	}
	if s == nil {
		return nil, errors.New("no sandbox session")
	}
	if err := s.ImportErr(); err != nil {
		return nil, err
	}
	refs := s.Objects()
	if len(refs) == 0 {
		return nil, errors.New("nothing was imported")
	}
	if err := ce.host.FrameObjects(refs); err != nil {
		return nil, fmt.Errorf("failed to frame objects: %w", err)
	}
	raw, err := ce.host.CaptureViewport(ctx, size.Double())
	if err != nil {
		return nil, err
	}
	if raw == nil || raw.Bounds().Empty() {
		return nil, errors.New("viewport capture returned no image")
	}
	return fitExact(raw, size), nil
}

// approximate draws the loaded objects without the renderer. When the
// session holds nothing it draws the file summary instead.
func (ce *CaptureEngine) approximate(s *Session, id Identity, size Size) (*image.NRGBA, error) {
	if s != nil {
		if infos, _ := s.describe(); len(infos) > 0 {
			return drawApproximation(infos, size), nil
		}
	}
	summary, err := ce.cfg.summarizeFile(id)
	if err != nil {
		return nil, fmt.Errorf("nothing to approximate: %w", err)
	}
	return drawSummary(summary, size), nil
}

func (ce *CaptureEngine) placeholder(id Identity, size Size, source Source, failures []error) Capture {
	img, err := guard(func() (*image.NRGBA, error) {
		return drawPlaceholder(id.Kind, size, source == SourceErrorPlaceholder), nil
	})
	if err != nil {
		// Drawing the label failed; a flat frame is still a valid placeholder.
		failures = append(failures, err)
		img = flatPlaceholder(size)
	}
	return Capture{Image: img, Source: source, Errors: failures}
}

func flatPlaceholder(size Size) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height))
	fillRect(img, img.Bounds(), colorError)
	return img
}

// guard runs fn and turns a panic into an error.
func guard(fn func() (*image.NRGBA, error)) (img *image.NRGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
