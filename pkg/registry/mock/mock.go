package mock

import (
	"context"

	"github.com/shipway/shipway/pkg/image"
	"github.com/shipway/shipway/pkg/registry"
)

// Client is a registry.Client with pluggable behaviour, for tests.
type Client struct {
	ResolveDigestFn  func(ref image.Ref) (image.CanonicalRef, error)
	ManifestExistsFn func(ref image.CanonicalRef) (bool, error)
	CopyTagFn        func(src image.CanonicalRef, tag string) error
}

var _ registry.Client = &Client{}

func (m *Client) ResolveDigest(_ context.Context, ref image.Ref) (image.CanonicalRef, error) {
	return m.ResolveDigestFn(ref)
}

func (m *Client) ManifestExists(_ context.Context, ref image.CanonicalRef) (bool, error) {
	return m.ManifestExistsFn(ref)
}

func (m *Client) CopyTag(_ context.Context, src image.CanonicalRef, tag string) error {
	return m.CopyTagFn(src, tag)
}
