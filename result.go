package assetpreview

import (
	"image"

	"github.com/disintegration/imaging"
)

// Result is what a generation job hands back to its callers. Every caller
// gets its own copy: the image and the metadata record are never shared.
type Result struct {
	Identity Identity
	Size     Size
	// Tier is the tier actually produced, which can be lower than requested
	// when the host is unavailable.
	Tier     Tier
	Image    *image.NRGBA
	Source   Source
	Metadata *MetadataRecord
	// Cached is set when the result was served without running a job.
	Cached bool
	// Warnings holds the failures the job degraded past: capture failures,
	// cleanup residue, partial metadata.
	Warnings []error
}

// Degraded reports whether the result stands in for something that failed.
func (r Result) Degraded() bool {
	return r.Source.Degraded() || len(r.Warnings) > 0
}

func (r Result) clone() Result {
	out := r
	if r.Image != nil {
		out.Image = imaging.Clone(r.Image)
	}
	if r.Metadata != nil {
		out.Metadata = r.Metadata.clone()
	}
	out.Warnings = append([]error(nil), r.Warnings...)
	return out
}
