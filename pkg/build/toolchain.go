package build

import (
	"context"

	"github.com/shipway/shipway/pkg/image"
)

// ScanPolicy says what a vulnerability finding does to the stage.
type ScanPolicy string

const (
	// ScanOff skips scanning entirely.
	ScanOff ScanPolicy = "off"
	// ScanWarn runs the scan and logs findings without failing.
	ScanWarn ScanPolicy = "warn"
	// ScanBlock fails the stage on findings. The artifact is already
	// published by then; it stays published but is never referenced,
	// because the canonical reference is only emitted on full success.
	ScanBlock ScanPolicy = "block"
)

// BuildSpec is what the toolchain needs to produce the artifact.
type BuildSpec struct {
	Context    string
	Dockerfile string
	Tags       []image.Ref
	Platforms  []string
	BuildArgs  map[string]string
	// Push publishes the artifact as part of the build instead of
	// loading it into the local daemon. A multi-platform manifest
	// cannot be exported locally, so it can only be published this way.
	Push bool
}

// Toolchain abstracts the image building tools. The pipeline invokes
// them; it does not redesign them.
type Toolchain interface {
	// Build produces the artifact locally, tagged but unpublished.
	Build(ctx context.Context, spec BuildSpec) error
	// RunTests executes the verification command in an environment
	// matching the given runtime image.
	RunTests(ctx context.Context, command, runtimeImage string) error
	// Push publishes a tag produced by Build to its registry.
	Push(ctx context.Context, ref image.Ref) error
	// Scan checks the published artifact for vulnerabilities,
	// returning an error on findings.
	Scan(ctx context.Context, ref image.CanonicalRef) error
}
