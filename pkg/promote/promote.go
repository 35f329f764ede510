// Package promote implements the promotion stage: re-pointing
// environment tags at an already-published digest. No artifact is
// rebuilt and no content moves; promotion is registry metadata only.
package promote

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/shipway/shipway/pkg/image"
	shipmetrics "github.com/shipway/shipway/pkg/metrics"
	"github.com/shipway/shipway/pkg/registry"
)

var (
	// ErrInvalidRequest means the request cannot be attempted at all,
	// e.g. no target tags were given.
	ErrInvalidRequest = errors.New("invalid promotion request")
	// ErrReferenceNotFound means the digest to promote is not present
	// in the registry, so there is nothing to point tags at.
	ErrReferenceNotFound = errors.New("image reference not found in registry")
)

// TagResult records the outcome for one target tag.
type TagResult struct {
	Tag string
	Err error
}

// Result reports which target tags were re-pointed and which were not.
type Result struct {
	Image   image.CanonicalRef
	Applied []string
	Failed  []TagResult
}

// PartialFailureError is returned when at least one target tag could
// not be re-pointed. The tags that did apply stay applied; the caller
// can re-run the promotion for the failed ones, which is safe because
// re-pointing a tag at the digest it already has is a no-op.
type PartialFailureError struct {
	Applied []string
	Failed  []TagResult
}

func (e *PartialFailureError) Error() string {
	failed := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		failed[i] = f.Tag
	}
	return "promotion failed for tags: " + strings.Join(failed, ", ")
}

// ParseTargets splits a comma-separated list of target tags, trimming
// whitespace and dropping empty entries. An effectively empty list is
// an invalid request.
func ParseTargets(s string) ([]string, error) {
	var targets []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		return nil, errors.Wrap(ErrInvalidRequest, "no target tags given")
	}
	return targets, nil
}

// Stage promotes digests to environment tags.
type Stage struct {
	registry registry.Client
	logger   log.Logger
}

func NewStage(reg registry.Client, logger log.Logger) *Stage {
	return &Stage{
		registry: reg,
		logger:   logger,
	}
}

// Run re-points each target tag, in order, at the digest of ref. Tags
// are independent: one failing does not undo the ones already applied,
// and later ones are still attempted — except after an authorization
// failure, which would fail every remaining tag the same way, so the
// rest are abandoned unattempted.
func (s *Stage) Run(ctx context.Context, ref image.CanonicalRef, targets []string) (res Result, err error) {
	defer func(begin time.Time) {
		shipmetrics.StageDuration.With(
			shipmetrics.LabelStage, shipmetrics.StagePromote,
			shipmetrics.LabelEnvironment, "",
			shipmetrics.LabelSuccess, strconv.FormatBool(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())

	if len(targets) == 0 {
		return Result{}, errors.Wrap(ErrInvalidRequest, "no target tags given")
	}

	ok, err := s.registry.ManifestExists(ctx, ref)
	if err != nil {
		return Result{}, errors.Wrap(err, "checking source reference")
	}
	if !ok {
		return Result{}, errors.Wrapf(ErrReferenceNotFound, "%s", ref.String())
	}

	res = Result{Image: ref}
	for i, tag := range targets {
		if err := s.registry.CopyTag(ctx, ref, tag); err != nil {
			s.logger.Log("warning", "promotion failed for tag", "tag", tag, "err", err)
			res.Failed = append(res.Failed, TagResult{Tag: tag, Err: err})
			if registry.IsAuthError(err) {
				for _, rest := range targets[i+1:] {
					res.Failed = append(res.Failed, TagResult{
						Tag: rest,
						Err: errors.Wrap(err, "not attempted after authorization failure"),
					})
				}
				break
			}
			continue
		}
		s.logger.Log("msg", "promoted", "image", ref.String(), "tag", tag)
		res.Applied = append(res.Applied, tag)
	}

	if len(res.Failed) > 0 {
		return res, &PartialFailureError{Applied: res.Applied, Failed: res.Failed}
	}
	return res, nil
}
