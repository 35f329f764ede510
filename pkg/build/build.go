// Package build implements the build-and-publish stage: produce the
// artifact once, verify it, publish it under a revision-derived tag,
// and emit the digest-pinned reference that every later stage pins to.
package build

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/shipway/shipway/pkg/image"
	shipmetrics "github.com/shipway/shipway/pkg/metrics"
	"github.com/shipway/shipway/pkg/registry"
)

const (
	// DefaultPrimaryBranch is the only branch the cosmetic "latest"
	// tag may be assigned from.
	DefaultPrimaryBranch = "main"
	// LatestTag is cosmetic convenience only; downstream stages never
	// treat it as an identity.
	LatestTag = "latest"
)

// Config is the stage's invocation surface.
type Config struct {
	AppName    string
	Context    string
	Dockerfile string
	ImageName  image.Name
	Platforms  []string
	BuildArgs  map[string]string
	// TestCommand empty means verification is skipped, not implied.
	TestCommand  string
	RuntimeImage string
	// PushLatest assigns the cosmetic floating tag, only ever on the
	// primary branch.
	PushLatest    bool
	PrimaryBranch string
	ScanPolicy    ScanPolicy
}

// Result is the stage's sole durable output.
type Result struct {
	// Image is the canonical digest-pinned reference; everything
	// downstream references this and only this.
	Image image.CanonicalRef
	// ImageTag is the revision-derived tag the image was published under.
	ImageTag string
}

// Stage runs builds. Stateless; one Run per invocation.
type Stage struct {
	toolchain Toolchain
	registry  registry.Client
	logger    log.Logger
}

func NewStage(toolchain Toolchain, reg registry.Client, logger log.Logger) *Stage {
	return &Stage{
		toolchain: toolchain,
		registry:  reg,
		logger:    logger,
	}
}

// Run executes build → verify → publish → scan. The canonical
// reference is returned only if every configured step passed; a
// partially published artifact left behind by a late failure is
// orphaned but harmless, because nothing ever references it.
func (s *Stage) Run(ctx context.Context, config Config, meta Metadata) (res Result, err error) {
	defer func(begin time.Time) {
		shipmetrics.StageDuration.With(
			shipmetrics.LabelStage, shipmetrics.StageBuild,
			shipmetrics.LabelEnvironment, "",
			shipmetrics.LabelSuccess, strconv.FormatBool(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())

	if config.AppName == "" {
		return Result{}, errors.New("app name is required")
	}
	if meta.Revision == "" {
		return Result{}, errors.New("revision is required")
	}

	revisionRef := config.ImageName.ToRef(meta.RevisionTag())

	buildArgs := meta.BuildArgs()
	for k, v := range config.BuildArgs {
		buildArgs[k] = v
	}

	multiPlatform := len(config.Platforms) > 1
	spec := BuildSpec{
		Context:    config.Context,
		Dockerfile: config.Dockerfile,
		Tags:       []image.Ref{revisionRef},
		Platforms:  config.Platforms,
		BuildArgs:  buildArgs,
		Push:       multiPlatform,
	}

	verify := func() error {
		if config.TestCommand == "" {
			s.logger.Log("msg", "verification skipped; no test command configured")
			return nil
		}
		s.logger.Log("msg", "verifying", "command", config.TestCommand, "runtime", config.RuntimeImage)
		return s.toolchain.RunTests(ctx, config.TestCommand, config.RuntimeImage)
	}
	doBuild := func() error {
		s.logger.Log("msg", "building", "app", config.AppName, "ref", revisionRef.String(), "revision", meta.Revision)
		return s.toolchain.Build(ctx, spec)
	}

	if multiPlatform {
		// a multi-platform build publishes as it builds, so
		// verification must come first: untested artifacts are never
		// published
		if err := verify(); err != nil {
			return Result{}, &Error{Kind: KindTest, Err: err}
		}
		if err := doBuild(); err != nil {
			return Result{}, &Error{Kind: KindBuild, Err: err}
		}
	} else {
		if err := doBuild(); err != nil {
			return Result{}, &Error{Kind: KindBuild, Err: err}
		}
		if err := verify(); err != nil {
			// untested artifacts are never published
			return Result{}, &Error{Kind: KindTest, Err: err}
		}
		if err := s.toolchain.Push(ctx, revisionRef); err != nil {
			return Result{}, &Error{Kind: KindPublish, Err: err}
		}
	}

	canonical, err := s.registry.ResolveDigest(ctx, revisionRef)
	if err != nil {
		return Result{}, &Error{Kind: KindPublish, Err: errors.Wrap(err, "reading back published digest")}
	}
	s.logger.Log("msg", "published", "image", canonical.String(), "tag", revisionRef.Tag)

	if config.PushLatest {
		s.assignLatest(ctx, canonical, config, meta)
	}

	if config.ScanPolicy != "" && config.ScanPolicy != ScanOff {
		if err := s.toolchain.Scan(ctx, canonical); err != nil {
			if config.ScanPolicy == ScanBlock {
				// already pushed; the artifact stays in the registry,
				// but no canonical reference escapes this stage
				return Result{}, &Error{Kind: KindScan, Err: err}
			}
			s.logger.Log("warning", "vulnerability scan reported findings", "err", err)
		}
	}

	return Result{
		Image:    canonical,
		ImageTag: revisionRef.Tag,
	}, nil
}

// assignLatest points the floating convenience tag at the digest just
// published. Cosmetic: failure is logged, never fatal, and the tag
// carries no promotion-grade meaning downstream.
func (s *Stage) assignLatest(ctx context.Context, canonical image.CanonicalRef, config Config, meta Metadata) {
	primary := config.PrimaryBranch
	if primary == "" {
		primary = DefaultPrimaryBranch
	}
	if meta.Branch != primary {
		s.logger.Log("msg", "skipping latest tag", "branch", meta.Branch, "primary", primary)
		return
	}
	if err := s.registry.CopyTag(ctx, canonical, LatestTag); err != nil {
		s.logger.Log("warning", "assigning latest tag failed", "err", err)
		return
	}
	s.logger.Log("msg", "assigned latest tag", "image", canonical.String())
}
