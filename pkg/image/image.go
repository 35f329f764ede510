package image

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

const (
	dockerHubHost = "index.docker.io"

	oldDockerHubHost = "docker.io"
)

var (
	ErrInvalidImageID   = errors.New("invalid image ID")
	ErrBlankImageID     = errors.Wrap(ErrInvalidImageID, "blank image name")
	ErrMalformedImageID = errors.Wrap(ErrInvalidImageID, `expected image name as either <image>:<tag> or just <image>`)
	ErrMissingDigest    = errors.Wrap(ErrInvalidImageID, `expected a digest-pinned reference <image>@<digest>`)
	ErrMalformedDigest  = errors.Wrap(ErrInvalidImageID, "malformed content digest")
)

// Name represents an unversioned (i.e., untagged) image a.k.a.,
// an image repo. These sometimes include a domain, e.g., quay.io, and
// always include a path with at least one element. By convention,
// images at DockerHub may have the domain omitted; and, if they only
// have single path element, the prefix `library` is implied.
//
// Examples (stringified):
//   * alpine
//   * library/alpine
//   * ghcr.io/shipway/helloworld
//   * localhost:5000/arbitrary/path/to/repo
type Name struct {
	Domain, Image string
}

func (i Name) String() string {
	if i.Image == "" {
		return "" // Doesn't make sense to return anything if it doesn't even have an image
	}
	var host string
	if i.Domain != "" {
		host = i.Domain + "/"
	}
	return fmt.Sprintf("%s%s", host, i.Image)
}

// Repository returns the canonicalised path part of a Name.
func (i Name) Repository() string {
	switch i.Domain {
	case "", oldDockerHubHost, dockerHubHost:
		path := strings.Split(i.Image, "/")
		if len(path) == 1 {
			return "library/" + i.Image
		}
		return i.Image
	default:
		return i.Image
	}
}

// Registry returns the domain name of the image registry, to use to
// push or fetch the image.
func (i Name) Registry() string {
	switch i.Domain {
	case "", oldDockerHubHost:
		return dockerHubHost
	default:
		return i.Domain
	}
}

func (i Name) ToRef(tag string) Ref {
	return Ref{
		Name: i,
		Tag:  tag,
	}
}

// WithDigest pins the name to a content digest, yielding the
// canonical reference used between pipeline stages.
func (i Name) WithDigest(d digest.Digest) CanonicalRef {
	return CanonicalRef{
		Name: Name{
			Domain: i.Registry(),
			Image:  i.Repository(),
		},
		Digest: d,
	}
}

// Ref represents a versioned (i.e., tagged) image. The tag is
// allowed to be empty, though it is in general undefined what that
// means. As such, `Ref` also includes all `Name` values.
//
// Examples (stringified):
//  * alpine:3.5
//  * library/alpine:3.5
//  * ghcr.io/shipway/helloworld:sha-59f0001
type Ref struct {
	Name
	Tag string
}

// String returns the Ref as a string (i.e., unparsed) without canonicalising it.
func (i Ref) String() string {
	var tag string
	if i.Tag != "" {
		tag = ":" + i.Tag
	}
	return fmt.Sprintf("%s%s", i.Name.String(), tag)
}

// WithNewTag makes a new copy of a Ref with a new tag
func (i Ref) WithNewTag(t string) Ref {
	var img Ref
	img = i
	img.Tag = t
	return img
}

func (i Ref) Components() (domain, repo, tag string) {
	return i.Domain, i.Image, i.Tag
}

// CanonicalRef is a digest-pinned image reference: registry location
// plus immutable content digest, with none of the name fields left to
// be implied by convention. It is the only representation of an
// artifact handed between pipeline stages; tags are mutable pointers
// and two readers of the same tag can observe different content, so a
// tag never identifies an artifact downstream of its build.
//
// Examples (stringified):
//  * index.docker.io/library/alpine@sha256:6c9727e...
//  * ghcr.io/shipway/helloworld@sha256:b0ae1fc...
type CanonicalRef struct {
	Name
	Digest digest.Digest
}

// String returns the reference in `<registry>/<repo>@<digest>` form.
func (i CanonicalRef) String() string {
	return fmt.Sprintf("%s@%s", i.Name.String(), i.Digest)
}

// ToRef returns a mutable tag pointer into the same repository; the
// result no longer identifies the pinned content.
func (i CanonicalRef) ToRef(tag string) Ref {
	return i.Name.ToRef(tag)
}

// ParseRef parses a string representation of an image id into a
// Ref value. The grammar is shown here:
// https://github.com/docker/distribution/blob/master/reference/reference.go
// (but we do not care about all the productions.)
func ParseRef(s string) (Ref, error) {
	var id Ref
	if s == "" {
		return id, errors.Wrapf(ErrBlankImageID, "parsing %q", s)
	}
	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return id, errors.Wrapf(ErrMalformedImageID, "parsing %q", s)
	}

	elements := strings.Split(s, "/")
	switch len(elements) {
	case 0: // NB strings.Split will never return []
		return id, errors.Wrapf(ErrMalformedImageID, "parsing %q", s)
	case 1: // no slashes, e.g., "alpine:1.5"; treat as library image
		id.Image = s
	case 2: // may have a domain e.g., "localhost/foo", or not e.g., "shipway/helloworld"
		if domainRegexp.MatchString(elements[0]) {
			id.Domain = elements[0]
			id.Image = elements[1]
		} else {
			id.Image = s
		}
	default: // cannot be a library image, so the first element is assumed to be a domain
		id.Domain = elements[0]
		id.Image = strings.Join(elements[1:], "/")
	}

	// Figure out if there's a tag
	imageParts := strings.Split(id.Image, ":")
	switch len(imageParts) {
	case 1:
		break
	case 2:
		if imageParts[0] == "" || imageParts[1] == "" {
			return id, errors.Wrapf(ErrMalformedImageID, "parsing %q", s)
		}
		id.Image = imageParts[0]
		id.Tag = imageParts[1]
	default:
		return id, ErrMalformedImageID
	}

	return id, nil
}

// ParseCanonicalRef parses a digest-pinned reference
// (`<image>@<digest>`). A cosmetic tag before the `@` is permitted
// and discarded; the digest alone is the identity. A reference
// without a digest is rejected, however well-formed its tag: the
// stages downstream of a build may only ever be handed immutable
// identities.
func ParseCanonicalRef(s string) (CanonicalRef, error) {
	var id CanonicalRef
	if s == "" {
		return id, errors.Wrapf(ErrBlankImageID, "parsing %q", s)
	}
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 {
		return id, errors.Wrapf(ErrMissingDigest, "parsing %q", s)
	}
	d, err := digest.Parse(parts[1])
	if err != nil {
		return id, errors.Wrapf(ErrMalformedDigest, "parsing %q", s)
	}
	ref, err := ParseRef(parts[0])
	if err != nil {
		return id, err
	}
	return ref.Name.WithDigest(d), nil
}

var (
	domainComponent = `([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9-]*[a-zA-Z0-9])`
	domain          = fmt.Sprintf(`localhost|(%s([.]%s)+)(:[0-9]+)?`, domainComponent, domainComponent)
	domainRegexp    = regexp.MustCompile(domain)
)

// Refs are serialized/deserialized as strings
func (i Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

func (i *Ref) UnmarshalJSON(data []byte) (err error) {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*i, err = ParseRef(str)
	return err
}

// CanonicalRefs are serialized/deserialized as strings
func (i CanonicalRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

func (i *CanonicalRef) UnmarshalJSON(data []byte) (err error) {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*i, err = ParseCanonicalRef(str)
	return err
}

// NewerBySemver returns true if lhs tag should be sorted before rhs
// with regard to their semver order descending. Tags that do not
// parse as semver sort after all tags that do.
func NewerBySemver(lhs, rhs string) bool {
	lv, lerr := semver.NewVersion(lhs)
	rv, rerr := semver.NewVersion(rhs)
	if lerr != nil && rerr != nil {
		return lhs < rhs
	}
	if lerr != nil {
		return false
	}
	if rerr != nil {
		return true
	}
	cmp := lv.Compare(rv)
	// In semver, `1.10` and `1.10.0` is the same but in favor of explicitness
	// we should consider the latter newer.
	if cmp == 0 {
		return lhs > rhs
	}
	return cmp > 0
}

// SortTags orders the given tags newest-first according to NewerBySemver.
func SortTags(tags []string) {
	sort.Slice(tags, func(i, j int) bool {
		return NewerBySemver(tags[i], tags[j])
	})
}
