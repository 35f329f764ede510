package registry

import (
	"context"
	"net/http"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/shipway/shipway/pkg/image"
)

const defaultRequestTimeout = 30 * time.Second

// Remote is a Client backed by a real registry, speaking the
// distribution API via go-containerregistry. Every call carries its
// own bounded timeout; an unbounded registry call would let one slow
// endpoint stall a whole promotion.
type Remote struct {
	transport http.RoundTripper
	keychain  authn.Keychain
	timeout   time.Duration
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithTransport supplies the HTTP transport to use, e.g. one wrapped
// by RateLimitedRoundTripper.
func WithTransport(t http.RoundTripper) RemoteOption {
	return func(r *Remote) { r.transport = t }
}

// WithKeychain supplies the credential keychain, e.g. one that mints
// ECR tokens.
func WithKeychain(k authn.Keychain) RemoteOption {
	return func(r *Remote) { r.keychain = k }
}

// WithTimeout bounds each registry round trip.
func WithTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) { r.timeout = d }
}

// NewRemote constructs a Remote with the default keychain and
// transport unless overridden.
func NewRemote(opts ...RemoteOption) *Remote {
	r := &Remote{
		transport: http.DefaultTransport,
		keychain:  authn.DefaultKeychain,
		timeout:   defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Remote) options(ctx context.Context) []remote.Option {
	return []remote.Option{
		remote.WithContext(ctx),
		remote.WithTransport(r.transport),
		remote.WithAuthFromKeychain(r.keychain),
	}
}

// ResolveDigest asks the registry which digest is behind the tag.
func (r *Remote) ResolveDigest(ctx context.Context, ref image.Ref) (image.CanonicalRef, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tag, err := name.NewTag(ref.String())
	if err != nil {
		return image.CanonicalRef{}, errors.Wrapf(err, "parsing tag %q", ref)
	}
	desc, err := remote.Head(tag, r.options(ctx)...)
	if err != nil {
		return image.CanonicalRef{}, translateErr(err, "resolving digest for %s", ref)
	}
	d, err := digest.Parse(desc.Digest.String())
	if err != nil {
		return image.CanonicalRef{}, errors.Wrapf(err, "registry returned malformed digest for %s", ref)
	}
	return ref.Name.WithDigest(d), nil
}

// ManifestExists does a HEAD for the digest-pinned manifest.
func (r *Remote) ManifestExists(ctx context.Context, ref image.CanonicalRef) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	dig, err := name.NewDigest(ref.String())
	if err != nil {
		return false, errors.Wrapf(err, "parsing digest ref %q", ref)
	}
	_, err = remote.Head(dig, r.options(ctx)...)
	if err != nil {
		if IsNotFound(translateErr(err, "")) {
			return false, nil
		}
		return false, translateErr(err, "checking manifest %s", ref)
	}
	return true, nil
}

// CopyTag fetches the manifest descriptor by digest and writes it
// back under the new tag. Layers are never pulled.
func (r *Remote) CopyTag(ctx context.Context, src image.CanonicalRef, tag string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	dig, err := name.NewDigest(src.String())
	if err != nil {
		return errors.Wrapf(err, "parsing digest ref %q", src)
	}
	desc, err := remote.Get(dig, r.options(ctx)...)
	if err != nil {
		return translateErr(err, "fetching manifest %s", src)
	}
	dst, err := name.NewTag(src.ToRef(tag).String())
	if err != nil {
		return errors.Wrapf(err, "parsing target tag %q", tag)
	}
	if err := remote.Tag(dst, desc, r.options(ctx)...); err != nil {
		return translateErr(err, "tagging %s as %q", src, tag)
	}
	return nil
}

// translateErr maps distribution API failures onto the package's
// sentinel errors so callers can discriminate without knowing the
// transport.
func translateErr(err error, format string, args ...interface{}) error {
	if terr, ok := err.(*transport.Error); ok {
		switch terr.StatusCode {
		case http.StatusNotFound:
			err = errors.Wrap(ErrNotFound, terr.Error())
		case http.StatusUnauthorized, http.StatusForbidden:
			err = errors.Wrap(ErrUnauthorized, terr.Error())
		}
	}
	if format == "" {
		return err
	}
	return errors.Wrapf(err, format, args...)
}
