/*
Package assetpreview generates thumbnails and metadata for 3D scene assets
inside a host application without disturbing the user's open work.

# Overview

Previews come in two tiers. Tier 1 reads the asset file directly and draws a
structural glyph or a labeled placeholder; it never calls the host. Tier 2
imports the asset into a throwaway sandbox namespace in the host, captures
the viewport offscreen, extracts full metadata and then unwinds everything
it created.

Generated images are kept in a bounded in-memory cache and, optionally, on
disk. A tier-2 image satisfies later tier-1 requests for the same size.

# Basic Usage

	p, err := assetpreview.New(host,
	    assetpreview.WithLogger(logger),
	    assetpreview.WithPersistDir(".assetpreview"),
	)
	if err != nil {
	    log.Fatalf("Failed to create previewer: %v", err)
	}
	defer p.Close()

	h, err := p.RequestThumbnail(ctx, "assets/rig_A.scene",
	    assetpreview.Size{Width: 128, Height: 128}, assetpreview.Tier2, false)
	if err != nil {
	    log.Fatalf("Request failed: %v", err)
	}

	res, err := h.Wait(ctx)
	if err != nil {
	    log.Fatalf("Preview failed: %v", err)
	}
	if res.Degraded() {
	    log.Printf("Preview degraded: %v", res.Warnings)
	}

Identical requests in flight share one job; each caller receives its own copy
of the result.

# Sandbox Sessions

Every tier-2 job runs in a Session named apv_<time>_<random>. The session
records each object the import created, including ones the importer did not
report, and the user's selection and view state. Closing it runs the
CleanupEngine:

  - unlock locked objects
  - sever external connections
  - delete objects, deepest first, falling back to forced deletion
  - remove the namespace, falling back to recursive removal and then to
    merging survivors into the apv_quarantine namespace
  - validate that nothing is left

Cleanup never fails a job. Residue is reported as a *CleanupResidue warning
and logged at error level.

# Capture Fallbacks

A tier-2 capture tries a real render first, then a wireframe approximation
drawn from the session contents, then a distinct error placeholder. The
result's Source says which step produced the image. Error placeholders are
not cached.

# File Structure

With WithPersistDir the disk layer uses this layout:

	.assetpreview/
	├── manifests/
	│   └── [first 2 chars of hash]/
	│       └── [full hash].json
	└── objects/
	    └── [first 2 chars of hash]/
	        └── [full hash]/
	            └── thumb.png

# Error Handling

  - ErrAssetNotFound: the file did not exist when the request was made
  - ErrQueueOverflow: the queue is bounded and full
  - ErrCancelled, ErrClosed: the job was removed before it ran
  - ErrHostUnavailable: a tier-2 job degraded to tier 1
  - *ImportFailure, *CaptureFailure, *ExtractionPartial, *CleanupResidue:
    warnings attached to an otherwise usable result
*/
package assetpreview
