package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shipway/shipway/pkg/build"
	"github.com/shipway/shipway/pkg/image"
)

type buildOpts struct {
	*rootOpts
	appName         string
	buildContext    string
	dockerfile      string
	imageName       string
	registry        string
	owner           string
	testCommand     string
	runtimeImage    string
	pushLatest      bool
	primaryBranch   string
	runSecurityScan bool
	buildArgs       []string
	platforms       []string
}

func newBuild(parent *rootOpts) *buildOpts {
	return &buildOpts{rootOpts: parent}
}

func (opts *buildOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "build, verify and publish the image; print its digest reference",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVar(&opts.appName, "app-name", "", "name of the application")
	cmd.Flags().StringVar(&opts.buildContext, "context", ".", "build context directory")
	cmd.Flags().StringVar(&opts.dockerfile, "dockerfile", "Dockerfile", "path of the Dockerfile within the context")
	cmd.Flags().StringVar(&opts.imageName, "image-name", "", "full image name; derived as <registry>/<owner>/<app-name> when unset")
	cmd.Flags().StringVar(&opts.registry, "registry", "", "registry host for the derived image name")
	cmd.Flags().StringVar(&opts.owner, "owner", "", "registry namespace for the derived image name")
	cmd.Flags().StringVar(&opts.testCommand, "test-command", "", "verification command to run against the built image; empty skips verification")
	cmd.Flags().StringVar(&opts.runtimeImage, "runtime-image", "", "image providing the runtime for the verification command")
	cmd.Flags().BoolVar(&opts.pushLatest, "push-latest", false, "also point the cosmetic latest tag at the digest, on the primary branch only")
	cmd.Flags().StringVar(&opts.primaryBranch, "primary-branch", build.DefaultPrimaryBranch, "branch allowed to carry the latest tag")
	cmd.Flags().BoolVar(&opts.runSecurityScan, "run-security-scan", false, "scan the published image and fail the build on findings")
	cmd.Flags().StringArrayVar(&opts.buildArgs, "build-arg", nil, "extra build argument as key=value; repeatable")
	cmd.Flags().StringSliceVar(&opts.platforms, "platform", nil, "target platform(s), e.g. linux/amd64")
	return cmd
}

func (opts *buildOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if opts.appName == "" {
		return newUsageError("please supply --app-name")
	}

	imageName := opts.imageName
	if imageName == "" {
		if opts.registry == "" || opts.owner == "" {
			return newUsageError("please supply --image-name, or --registry and --owner to derive it")
		}
		imageName = fmt.Sprintf("%s/%s/%s", opts.registry, opts.owner, opts.appName)
	}
	ref, err := image.ParseRef(imageName)
	if err != nil {
		return err
	}

	buildArgs := map[string]string{}
	for _, arg := range opts.buildArgs {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return newUsageError("build args take the form key=value, got " + arg)
		}
		buildArgs[parts[0]] = parts[1]
	}

	scanPolicy := build.ScanOff
	if opts.runSecurityScan {
		scanPolicy = build.ScanBlock
	}

	ctx := context.Background()
	meta, err := build.GatherMetadata(ctx, opts.buildContext)
	if err != nil {
		return err
	}

	stage := build.NewStage(
		build.NewDockerToolchain("", "", opts.Logger),
		opts.registryClient(ref.Name.Registry()),
		opts.Logger,
	)
	res, err := stage.Run(ctx, build.Config{
		AppName:       opts.appName,
		Context:       opts.buildContext,
		Dockerfile:    opts.dockerfile,
		ImageName:     ref.Name,
		Platforms:     opts.platforms,
		BuildArgs:     buildArgs,
		TestCommand:   opts.testCommand,
		RuntimeImage:  opts.runtimeImage,
		PushLatest:    opts.pushLatest,
		PrimaryBranch: opts.primaryBranch,
		ScanPolicy:    scanPolicy,
	}, meta)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "image=%s\n", res.Image.String())
	fmt.Fprintf(cmd.OutOrStdout(), "image_tag=%s\n", res.ImageTag)
	return nil
}
