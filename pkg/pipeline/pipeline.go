// Package pipeline composes the stages into the build-once,
// promote-by-digest, deploy flow. It is plain composition over the
// stage types; each stage stays independently usable, so an external
// scheduler can run them as separate steps instead.
package pipeline

import (
	"context"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/shipway/shipway/pkg/build"
	"github.com/shipway/shipway/pkg/deploy"
	"github.com/shipway/shipway/pkg/image"
	"github.com/shipway/shipway/pkg/promote"
)

type BuildStage interface {
	Run(ctx context.Context, config build.Config, meta build.Metadata) (build.Result, error)
}

type PromoteStage interface {
	Run(ctx context.Context, ref image.CanonicalRef, targets []string) (promote.Result, error)
}

type DeployStage interface {
	Run(ctx context.Context, config deploy.Config) (*deploy.RolloutRecord, error)
}

// Environment is one deployment target. Its promotion tags default to
// just its name.
type Environment struct {
	Name   string
	Tags   []string
	Deploy deploy.Config
}

func (e Environment) tags() []string {
	if len(e.Tags) > 0 {
		return e.Tags
	}
	return []string{e.Name}
}

// Spec is one end-to-end run: one build, fanned out to environments.
type Spec struct {
	Build        build.Config
	Metadata     build.Metadata
	Environments []Environment
}

// EnvironmentResult is the outcome for one environment.
type EnvironmentResult struct {
	Environment string
	Promotion   promote.Result
	Rollout     *deploy.RolloutRecord
	Err         error
}

// Result is the outcome of a whole run. Environments appear in the
// order they were specified, regardless of completion order.
type Result struct {
	Image        image.CanonicalRef
	ImageTag     string
	Environments []EnvironmentResult
}

// Pipeline wires the three stages together.
type Pipeline struct {
	Build   BuildStage
	Promote PromoteStage
	Deploy  DeployStage
	Logger  log.Logger
}

// Run builds exactly once, then promotes and deploys to every
// environment concurrently. Within an environment promote strictly
// precedes deploy; across environments nothing is ordered. The only
// thing environments share is the immutable digest reference, so a
// failure in one never affects another.
func (p *Pipeline) Run(ctx context.Context, spec Spec) (Result, error) {
	buildRes, err := p.Build.Run(ctx, spec.Build, spec.Metadata)
	if err != nil {
		return Result{}, errors.Wrap(err, "build stage")
	}
	p.Logger.Log("msg", "built", "image", buildRes.Image.String(), "environments", len(spec.Environments))

	res := Result{
		Image:        buildRes.Image,
		ImageTag:     buildRes.ImageTag,
		Environments: make([]EnvironmentResult, len(spec.Environments)),
	}

	var wg sync.WaitGroup
	for i, env := range spec.Environments {
		wg.Add(1)
		go func(i int, env Environment) {
			defer wg.Done()
			res.Environments[i] = p.runEnvironment(ctx, env, buildRes.Image)
		}(i, env)
	}
	wg.Wait()

	var failed int
	for _, envRes := range res.Environments {
		if envRes.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return res, errors.Errorf("%d of %d environments failed", failed, len(spec.Environments))
	}
	return res, nil
}

func (p *Pipeline) runEnvironment(ctx context.Context, env Environment, ref image.CanonicalRef) EnvironmentResult {
	res := EnvironmentResult{Environment: env.Name}

	// cancellation is honoured at stage boundaries; a stage that has
	// started is left to finish or fail on its own context handling
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	promotion, err := p.Promote.Run(ctx, ref, env.tags())
	res.Promotion = promotion
	if err != nil {
		res.Err = errors.Wrapf(err, "promoting to %s", env.Name)
		p.Logger.Log("environment", env.Name, "err", res.Err)
		return res
	}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	deployConfig := env.Deploy
	deployConfig.Environment = env.Name
	deployConfig.Image = ref
	record, err := p.Deploy.Run(ctx, deployConfig)
	res.Rollout = record
	if err != nil {
		res.Err = errors.Wrapf(err, "deploying to %s", env.Name)
		p.Logger.Log("environment", env.Name, "err", res.Err)
		return res
	}
	p.Logger.Log("environment", env.Name, "msg", "rolled out", "image", ref.String())
	return res
}
