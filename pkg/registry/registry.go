// Package registry provides domain abstractions over container
// registries: resolving a tag to its content digest, checking that a
// digest is present, and re-pointing tags at an existing digest
// without moving any content.
package registry

import (
	"context"

	"github.com/pkg/errors"

	"github.com/shipway/shipway/pkg/image"
)

var (
	// ErrNotFound means the registry has no manifest for the
	// reference asked about.
	ErrNotFound = errors.New("manifest not found in registry")
	// ErrUnauthorized means the registry rejected our credentials;
	// there is no point retrying other tags with the same ones.
	ErrUnauthorized = errors.New("not authorized to access registry")
)

// Client is a handle to a registry. It is an interface so we can wrap
// it in instrumentation, write fake implementations, and so on.
type Client interface {
	// ResolveDigest looks up the digest currently behind a tag,
	// yielding the digest-pinned reference for it. This is the only
	// moment a tag is trusted: immediately after a publish, to learn
	// the identity of what was pushed.
	ResolveDigest(ctx context.Context, ref image.Ref) (image.CanonicalRef, error)
	// ManifestExists reports whether the digest-pinned reference is
	// present in the registry.
	ManifestExists(ctx context.Context, ref image.CanonicalRef) (bool, error)
	// CopyTag points `tag` (in the same repository) at the digest of
	// `src`. It is a metadata-only operation; no blobs move. Pointing
	// a tag at the digest it already refers to is a no-op.
	CopyTag(ctx context.Context, src image.CanonicalRef, tag string) error
}

// IsNotFound tells whether the error (possibly wrapped) means a
// missing manifest.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}

// IsAuthError tells whether the error (possibly wrapped) means the
// registry refused our credentials.
func IsAuthError(err error) bool {
	return errors.Cause(err) == ErrUnauthorized
}
