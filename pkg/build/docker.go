package build

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/shipway/shipway/pkg/image"
)

// DockerToolchain drives the docker and scanner binaries, the same
// way the cluster package drives kubectl.
type DockerToolchain struct {
	exe     string // e.g., "docker"
	scanner string // e.g., "trivy"
	logger  log.Logger
}

func NewDockerToolchain(exe, scanner string, logger log.Logger) *DockerToolchain {
	if exe == "" {
		exe = "docker"
	}
	if scanner == "" {
		scanner = "trivy"
	}
	return &DockerToolchain{
		exe:     exe,
		scanner: scanner,
		logger:  logger,
	}
}

func (t *DockerToolchain) Build(ctx context.Context, spec BuildSpec) error {
	return t.doCommand(ctx, t.exe, buildCommandArgs(spec)...)
}

func buildCommandArgs(spec BuildSpec) []string {
	args := []string{"buildx", "build"}
	if spec.Push {
		args = append(args, "--push")
	} else {
		// docker refuses --load for multi-platform builds
		args = append(args, "--load")
	}
	args = append(args, "--file", spec.Dockerfile)
	for _, tag := range spec.Tags {
		args = append(args, "--tag", tag.String())
	}
	if len(spec.Platforms) > 0 {
		args = append(args, "--platform", strings.Join(spec.Platforms, ","))
	}
	// deterministic argument order, so logs diff cleanly between runs
	keys := make([]string, 0, len(spec.BuildArgs))
	for k := range spec.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, spec.BuildArgs[k]))
	}
	return append(args, spec.Context)
}

func (t *DockerToolchain) RunTests(ctx context.Context, command, runtimeImage string) error {
	workdir, err := filepath.Abs(".")
	if err != nil {
		return err
	}
	args := []string{
		"run", "--rm",
		"--volume", workdir + ":/workspace",
		"--workdir", "/workspace",
		runtimeImage,
		"sh", "-c", command,
	}
	return t.doCommand(ctx, t.exe, args...)
}

func (t *DockerToolchain) Push(ctx context.Context, ref image.Ref) error {
	return t.doCommand(ctx, t.exe, "push", ref.String())
}

func (t *DockerToolchain) Scan(ctx context.Context, ref image.CanonicalRef) error {
	return t.doCommand(ctx, t.scanner, "image", "--exit-code", "1", ref.String())
}

func (t *DockerToolchain) doCommand(ctx context.Context, exe string, args ...string) error {
	cmd := exec.CommandContext(ctx, exe, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout := &bytes.Buffer{}
	cmd.Stdout = stdout

	begin := time.Now()
	err := cmd.Run()
	if err != nil {
		err = errors.Wrap(errors.New(strings.TrimSpace(stderr.String())), "running "+exe)
	}

	t.logger.Log("cmd", exe+" "+strings.Join(args, " "), "took", time.Since(begin), "err", err)
	return err
}
