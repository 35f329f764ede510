// Monitoring middleware for the registry client.
package registry

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/shipway/shipway/pkg/image"
	shipmetrics "github.com/shipway/shipway/pkg/metrics"
)

const (
	OperationResolveDigest  = "resolve_digest"
	OperationManifestExists = "manifest_exists"
	OperationCopyTag        = "copy_tag"
)

var requestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
	Namespace: "shipway",
	Subsystem: "registry",
	Name:      "request_duration_seconds",
	Help:      "Duration of registry API requests, in seconds.",
	Buckets:   stdprometheus.DefBuckets,
}, []string{shipmetrics.LabelOperation, shipmetrics.LabelSuccess})

type instrumentedClient struct {
	next Client
}

// NewInstrumentedClient records the duration and outcome of each
// registry operation.
func NewInstrumentedClient(next Client) Client {
	return &instrumentedClient{next: next}
}

func (m *instrumentedClient) ResolveDigest(ctx context.Context, ref image.Ref) (res image.CanonicalRef, err error) {
	start := time.Now()
	res, err = m.next.ResolveDigest(ctx, ref)
	requestDuration.With(
		shipmetrics.LabelOperation, OperationResolveDigest,
		shipmetrics.LabelSuccess, strconv.FormatBool(err == nil),
	).Observe(time.Since(start).Seconds())
	return
}

func (m *instrumentedClient) ManifestExists(ctx context.Context, ref image.CanonicalRef) (ok bool, err error) {
	start := time.Now()
	ok, err = m.next.ManifestExists(ctx, ref)
	requestDuration.With(
		shipmetrics.LabelOperation, OperationManifestExists,
		shipmetrics.LabelSuccess, strconv.FormatBool(err == nil),
	).Observe(time.Since(start).Seconds())
	return
}

func (m *instrumentedClient) CopyTag(ctx context.Context, src image.CanonicalRef, tag string) (err error) {
	start := time.Now()
	err = m.next.CopyTag(ctx, src, tag)
	requestDuration.With(
		shipmetrics.LabelOperation, OperationCopyTag,
		shipmetrics.LabelSuccess, strconv.FormatBool(err == nil),
	).Observe(time.Since(start).Seconds())
	return
}
