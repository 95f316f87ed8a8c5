package assetpreview

import "go.opentelemetry.io/otel"

const instrumentationName = "github.com/gophersatwork/assetpreview"

var tracer = otel.Tracer(instrumentationName)
