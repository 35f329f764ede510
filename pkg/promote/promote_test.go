package promote

import (
	"context"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipway/shipway/pkg/image"
	"github.com/shipway/shipway/pkg/registry"
	"github.com/shipway/shipway/pkg/registry/mock"
)

const testDigest = "sha256:05f95c4d4882cbcae59d18ffcaa4fe824f3d5f2a2c4b33e255f8b9f61f1b54f4"

func testRef(t *testing.T) image.CanonicalRef {
	ref, err := image.ParseCanonicalRef("ghcr.io/shipway/helloworld@" + testDigest)
	require.NoError(t, err)
	return ref
}

func presentRegistry(copyTag func(tag string) error) *mock.Client {
	return &mock.Client{
		ManifestExistsFn: func(image.CanonicalRef) (bool, error) {
			return true, nil
		},
		CopyTagFn: func(_ image.CanonicalRef, tag string) error {
			return copyTag(tag)
		},
	}
}

func TestParseTargets(t *testing.T) {
	for _, test := range []struct {
		input    string
		expected []string
	}{
		{"staging", []string{"staging"}},
		{"staging,prod", []string{"staging", "prod"}},
		{" staging , prod ", []string{"staging", "prod"}},
		{"staging,,prod,", []string{"staging", "prod"}},
	} {
		targets, err := ParseTargets(test.input)
		require.NoError(t, err)
		assert.Equal(t, test.expected, targets)
	}

	for _, input := range []string{"", " ", ",", " , "} {
		_, err := ParseTargets(input)
		assert.Equal(t, ErrInvalidRequest, errors.Cause(err), "input %q", input)
	}
}

func TestRunPromotesAllTargetsInOrder(t *testing.T) {
	var copied []string
	reg := presentRegistry(func(tag string) error {
		copied = append(copied, tag)
		return nil
	})
	stage := NewStage(reg, log.NewNopLogger())

	res, err := stage.Run(context.Background(), testRef(t), []string{"dev", "staging", "prod"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dev", "staging", "prod"}, copied)
	assert.Equal(t, []string{"dev", "staging", "prod"}, res.Applied)
	assert.Empty(t, res.Failed)
}

func TestRunIsIdempotent(t *testing.T) {
	// re-pointing a tag at the digest it already carries is a no-op at
	// the registry, so running the same promotion twice succeeds twice
	var copies int
	reg := presentRegistry(func(string) error {
		copies++
		return nil
	})
	stage := NewStage(reg, log.NewNopLogger())

	for i := 0; i < 2; i++ {
		_, err := stage.Run(context.Background(), testRef(t), []string{"staging"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, copies)
}

func TestRunMissingSourceReference(t *testing.T) {
	reg := &mock.Client{
		ManifestExistsFn: func(image.CanonicalRef) (bool, error) {
			return false, nil
		},
	}
	stage := NewStage(reg, log.NewNopLogger())

	_, err := stage.Run(context.Background(), testRef(t), []string{"staging"})
	assert.Equal(t, ErrReferenceNotFound, errors.Cause(err))
}

func TestRunEmptyTargets(t *testing.T) {
	stage := NewStage(&mock.Client{}, log.NewNopLogger())

	_, err := stage.Run(context.Background(), testRef(t), nil)
	assert.Equal(t, ErrInvalidRequest, errors.Cause(err))
}

func TestRunPartialFailureKeepsAppliedTags(t *testing.T) {
	reg := presentRegistry(func(tag string) error {
		if tag == "staging" {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	stage := NewStage(reg, log.NewNopLogger())

	res, err := stage.Run(context.Background(), testRef(t), []string{"dev", "staging", "prod"})
	require.Error(t, err)

	partial, ok := err.(*PartialFailureError)
	require.True(t, ok, "expected *PartialFailureError, got %T", err)
	assert.Equal(t, []string{"dev", "prod"}, res.Applied, "dev must stay promoted and prod must still be attempted")
	require.Len(t, partial.Failed, 1)
	assert.Equal(t, "staging", partial.Failed[0].Tag)
	assert.Contains(t, err.Error(), "staging")
	assert.NotContains(t, err.Error(), "dev")
}

func TestRunAuthFailureAbandonsRemainingTags(t *testing.T) {
	var copied []string
	reg := presentRegistry(func(tag string) error {
		if tag == "staging" {
			return errors.Wrap(registry.ErrUnauthorized, "pushing tag")
		}
		copied = append(copied, tag)
		return nil
	})
	stage := NewStage(reg, log.NewNopLogger())

	res, err := stage.Run(context.Background(), testRef(t), []string{"dev", "staging", "prod"})
	require.Error(t, err)
	assert.Equal(t, []string{"dev"}, copied, "prod must not be attempted with known-bad credentials")
	assert.Equal(t, []string{"dev"}, res.Applied)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, "staging", res.Failed[0].Tag)
	assert.Equal(t, "prod", res.Failed[1].Tag)
}
