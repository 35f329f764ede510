package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipway/shipway/pkg/build"
	"github.com/shipway/shipway/pkg/deploy"
	"github.com/shipway/shipway/pkg/image"
	"github.com/shipway/shipway/pkg/promote"
)

const testDigest = "sha256:05f95c4d4882cbcae59d18ffcaa4fe824f3d5f2a2c4b33e255f8b9f61f1b54f4"

func testImage(t *testing.T) image.CanonicalRef {
	ref, err := image.ParseCanonicalRef("ghcr.io/shipway/helloworld@" + testDigest)
	require.NoError(t, err)
	return ref
}

type fakeStages struct {
	mu     sync.Mutex
	builds int
	events []string

	image image.CanonicalRef

	buildErr   error
	promoteErr func(tag string) error
	deployErr  func(env string) error

	// when set, promote blocks until the barrier is released
	promoteEntered chan string
	promoteRelease chan struct{}
}

func (f *fakeStages) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeStages) Run(ctx context.Context, _ build.Config, _ build.Metadata) (build.Result, error) {
	f.mu.Lock()
	f.builds++
	f.mu.Unlock()
	if f.buildErr != nil {
		return build.Result{}, f.buildErr
	}
	return build.Result{Image: f.image, ImageTag: "sha-59f0001"}, nil
}

type fakePromote struct{ *fakeStages }

func (f fakePromote) Run(ctx context.Context, ref image.CanonicalRef, targets []string) (promote.Result, error) {
	if f.promoteEntered != nil {
		f.promoteEntered <- targets[0]
		<-f.promoteRelease
	}
	f.record("promote:" + targets[0])
	if f.promoteErr != nil {
		if err := f.promoteErr(targets[0]); err != nil {
			return promote.Result{}, err
		}
	}
	return promote.Result{Image: ref, Applied: targets}, nil
}

type fakeDeploy struct{ *fakeStages }

func (f fakeDeploy) Run(ctx context.Context, config deploy.Config) (*deploy.RolloutRecord, error) {
	f.record("deploy:" + config.Environment)
	record := &deploy.RolloutRecord{Environment: config.Environment, Image: config.Image, State: deploy.StateSucceeded}
	if f.deployErr != nil {
		if err := f.deployErr(config.Environment); err != nil {
			record.State = deploy.StateFailed
			return record, err
		}
	}
	return record, nil
}

func newTestPipeline(f *fakeStages) *Pipeline {
	return &Pipeline{
		Build:   f,
		Promote: fakePromote{f},
		Deploy:  fakeDeploy{f},
		Logger:  log.NewNopLogger(),
	}
}

func testSpec(envs ...string) Spec {
	spec := Spec{}
	for _, env := range envs {
		spec.Environments = append(spec.Environments, Environment{Name: env})
	}
	return spec
}

func TestRunBuildsOnceAndFansOut(t *testing.T) {
	f := &fakeStages{image: testImage(t)}
	res, err := newTestPipeline(f).Run(context.Background(), testSpec("dev", "staging"))
	require.NoError(t, err)

	assert.Equal(t, 1, f.builds, "the artifact is built exactly once for all environments")
	assert.Equal(t, testImage(t), res.Image)
	require.Len(t, res.Environments, 2)
	assert.Equal(t, "dev", res.Environments[0].Environment)
	assert.Equal(t, "staging", res.Environments[1].Environment)
	for _, envRes := range res.Environments {
		require.NoError(t, envRes.Err)
		assert.Equal(t, testImage(t), envRes.Rollout.Image)
	}
}

func TestRunPromoteBeforeDeployPerEnvironment(t *testing.T) {
	f := &fakeStages{image: testImage(t)}
	_, err := newTestPipeline(f).Run(context.Background(), testSpec("dev"))
	require.NoError(t, err)
	assert.Equal(t, []string{"promote:dev", "deploy:dev"}, f.events)
}

func TestRunPromotesAllEnvironmentTags(t *testing.T) {
	f := &fakeStages{image: testImage(t)}
	spec := Spec{Environments: []Environment{
		{Name: "prod", Tags: []string{"prod", "stable"}},
	}}
	res, err := newTestPipeline(f).Run(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"prod", "stable"}, res.Environments[0].Promotion.Applied)
}

func TestRunEnvironmentsRunConcurrently(t *testing.T) {
	f := &fakeStages{
		image:          testImage(t),
		promoteEntered: make(chan string, 2),
		promoteRelease: make(chan struct{}),
	}

	done := make(chan struct{})
	var err error
	go func() {
		_, err = newTestPipeline(f).Run(context.Background(), testSpec("dev", "staging"))
		close(done)
	}()

	// both environments must reach their promote without either
	// having to finish first
	entered := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case tag := <-f.promoteEntered:
			entered[tag] = true
		case <-time.After(5 * time.Second):
			t.Fatal("environments did not run concurrently")
		}
	}
	assert.True(t, entered["dev"] && entered["staging"])
	close(f.promoteRelease)
	<-done
	require.NoError(t, err)
}

func TestRunEnvironmentFailureIsIsolated(t *testing.T) {
	f := &fakeStages{
		image: testImage(t),
		deployErr: func(env string) error {
			if env == "staging" {
				return deploy.ErrRolloutTimedOut
			}
			return nil
		},
	}
	res, err := newTestPipeline(f).Run(context.Background(), testSpec("dev", "staging", "prod"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 environments failed")

	assert.NoError(t, res.Environments[0].Err)
	assert.Equal(t, deploy.ErrRolloutTimedOut, errors.Cause(res.Environments[1].Err))
	assert.NoError(t, res.Environments[2].Err, "a failing environment must not affect its peers")
}

func TestRunPromotionFailureSkipsDeploy(t *testing.T) {
	f := &fakeStages{
		image: testImage(t),
		promoteErr: func(tag string) error {
			return promote.ErrReferenceNotFound
		},
	}
	res, err := newTestPipeline(f).Run(context.Background(), testSpec("dev"))
	require.Error(t, err)
	assert.Equal(t, promote.ErrReferenceNotFound, errors.Cause(res.Environments[0].Err))
	assert.NotContains(t, f.events, "deploy:dev")
	assert.Nil(t, res.Environments[0].Rollout)
}

func TestRunBuildFailureStopsEverything(t *testing.T) {
	f := &fakeStages{buildErr: errors.New("compile error")}
	_, err := newTestPipeline(f).Run(context.Background(), testSpec("dev", "staging"))
	require.Error(t, err)
	assert.Empty(t, f.events, "no environment work may start after a failed build")
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeStages{
		image: testImage(t),
		promoteErr: func(string) error {
			cancel()
			return nil
		},
	}
	res, err := newTestPipeline(f).Run(ctx, testSpec("dev"))
	require.Error(t, err)
	assert.Equal(t, context.Canceled, errors.Cause(res.Environments[0].Err))
	assert.NotContains(t, f.events, "deploy:dev", "cancellation is honoured at the stage boundary")
}
