package build

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipway/shipway/pkg/image"
)

func specWithPlatforms(t *testing.T, push bool, platforms ...string) BuildSpec {
	ref, err := image.ParseRef("ghcr.io/shipway/helloworld:sha-59f0001")
	require.NoError(t, err)
	return BuildSpec{
		Context:    ".",
		Dockerfile: "Dockerfile",
		Tags:       []image.Ref{ref},
		Platforms:  platforms,
		Push:       push,
	}
}

func TestBuildCommandArgsSinglePlatform(t *testing.T) {
	args := buildCommandArgs(specWithPlatforms(t, false, "linux/amd64"))
	assert.Contains(t, args, "--load")
	assert.NotContains(t, args, "--push")
	assert.Contains(t, args, "linux/amd64")
}

func TestBuildCommandArgsMultiPlatform(t *testing.T) {
	args := buildCommandArgs(specWithPlatforms(t, true, "linux/amd64", "linux/arm64"))
	// docker rejects --load when --platform lists more than one target
	assert.NotContains(t, args, "--load")
	assert.Contains(t, args, "--push")
	assert.Contains(t, args, "linux/amd64,linux/arm64")
}

func TestBuildCommandArgsDeterministicBuildArgs(t *testing.T) {
	spec := specWithPlatforms(t, false)
	spec.BuildArgs = map[string]string{"B": "2", "A": "1", "C": "3"}
	rendered := strings.Join(buildCommandArgs(spec), " ")
	assert.Contains(t, rendered, "--build-arg A=1 --build-arg B=2 --build-arg C=3")
	assert.True(t, strings.HasSuffix(rendered, " ."), "the context comes last")
}
