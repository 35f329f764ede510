package build

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Metadata is the set of build-time facts baked into the artifact so
// it is self-describing: these are immutable once built, unlike
// runtime configuration.
type Metadata struct {
	Revision  string
	Branch    string
	Timestamp time.Time
}

// BuildArgs renders the metadata as build arguments for injection.
func (m Metadata) BuildArgs() map[string]string {
	return map[string]string{
		"BUILD_REVISION": m.Revision,
		"BUILD_BRANCH":   m.Branch,
		"BUILD_DATE":     m.Timestamp.UTC().Format(time.RFC3339),
	}
}

// RevisionTag is the deterministic primary tag for the revision;
// never a "latest"-style floating name.
func (m Metadata) RevisionTag() string {
	return "sha-" + m.Revision
}

// GatherMetadata reads revision and branch from the checkout at dir.
func GatherMetadata(ctx context.Context, dir string) (Metadata, error) {
	revision, err := gitOutput(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return Metadata{}, errors.Wrap(err, "reading revision")
	}
	branch, err := gitOutput(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Metadata{}, errors.Wrap(err, "reading branch")
	}
	return Metadata{
		Revision:  revision,
		Branch:    branch,
		Timestamp: time.Now(),
	}, nil
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = out
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrap(errors.New(strings.TrimSpace(stderr.String())), "running git")
	}
	return strings.TrimSpace(out.String()), nil
}
