package main

import (
	"context"
	"fmt"
	"io/ioutil"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/shipway/shipway/pkg/build"
	"github.com/shipway/shipway/pkg/deploy"
	"github.com/shipway/shipway/pkg/image"
	"github.com/shipway/shipway/pkg/pipeline"
	"github.com/shipway/shipway/pkg/promote"
)

type runOpts struct {
	*rootOpts
	file string
}

func newRun(parent *rootOpts) *runOpts {
	return &runOpts{rootOpts: parent}
}

func (opts *runOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the whole pipeline from a config file: build once, then promote and deploy per environment",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVar(&opts.file, "file", "shipway.yaml", "pipeline config file")
	return cmd
}

// pipelineConfig is the file format for `shipctl run`.
type pipelineConfig struct {
	App struct {
		Name          string `yaml:"name"`
		Image         string `yaml:"image"`
		Context       string `yaml:"context"`
		Dockerfile    string `yaml:"dockerfile"`
		TestCommand   string `yaml:"testCommand"`
		RuntimeImage  string `yaml:"runtimeImage"`
		PushLatest    bool   `yaml:"pushLatest"`
		PrimaryBranch string `yaml:"primaryBranch"`
		SecurityScan  string `yaml:"securityScan"` // off, warn or block
	} `yaml:"app"`
	Environments []struct {
		Name         string   `yaml:"name"`
		Tags         []string `yaml:"tags"`
		Namespace    string   `yaml:"namespace"`
		Deployment   string   `yaml:"deployment"`
		Container    string   `yaml:"container"`
		ManifestPath string   `yaml:"manifestPath"`
		UseOverlay   bool     `yaml:"useOverlay"`
		ClusterName  string   `yaml:"clusterName"`
		RoleARN      string   `yaml:"roleARN"`
		Kubeconfig   string   `yaml:"kubeconfig"`
	} `yaml:"environments"`
}

func (opts *runOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}

	bytes, err := ioutil.ReadFile(opts.file)
	if err != nil {
		return errors.Wrap(err, "reading pipeline config")
	}
	var config pipelineConfig
	if err := yaml.UnmarshalStrict(bytes, &config); err != nil {
		return errors.Wrap(err, "parsing pipeline config")
	}
	if config.App.Image == "" {
		return newUsageError("the config must name the image to build")
	}
	if len(config.Environments) == 0 {
		return newUsageError("the config must name at least one environment")
	}

	ref, err := image.ParseRef(config.App.Image)
	if err != nil {
		return err
	}
	buildContext := config.App.Context
	if buildContext == "" {
		buildContext = "."
	}
	dockerfile := config.App.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	scanPolicy := build.ScanPolicy(config.App.SecurityScan)
	if scanPolicy == "" {
		scanPolicy = build.ScanOff
	}

	spec := pipeline.Spec{
		Build: build.Config{
			AppName:       config.App.Name,
			Context:       buildContext,
			Dockerfile:    dockerfile,
			ImageName:     ref.Name,
			TestCommand:   config.App.TestCommand,
			RuntimeImage:  config.App.RuntimeImage,
			PushLatest:    config.App.PushLatest,
			PrimaryBranch: config.App.PrimaryBranch,
			ScanPolicy:    scanPolicy,
		},
	}

	ctx := context.Background()
	spec.Metadata, err = build.GatherMetadata(ctx, buildContext)
	if err != nil {
		return err
	}

	deployStage := &deployOpts{rootOpts: opts.rootOpts}
	for _, env := range config.Environments {
		var credential deploy.CredentialMethod
		switch {
		case env.ClusterName != "":
			credential = deploy.FederatedCredential{
				Region:      opts.AWSRegion,
				ClusterName: env.ClusterName,
				RoleARN:     env.RoleARN,
			}
		case env.Kubeconfig != "":
			credential = deploy.StaticCredential{KubeconfigPath: env.Kubeconfig}
		}
		spec.Environments = append(spec.Environments, pipeline.Environment{
			Name: env.Name,
			Tags: env.Tags,
			Deploy: deploy.Config{
				Namespace:    env.Namespace,
				Deployment:   env.Deployment,
				Container:    env.Container,
				Credential:   credential,
				ManifestPath: env.ManifestPath,
				UseOverlay:   env.UseOverlay,
			},
		})
	}

	registryClient := opts.registryClient(ref.Name.Registry())
	p := &pipeline.Pipeline{
		Build:   build.NewStage(build.NewDockerToolchain("", "", opts.Logger), registryClient, opts.Logger),
		Promote: promote.NewStage(registryClient, opts.Logger),
		Deploy:  deploy.NewStage(deployStage.newCluster, opts.Logger),
		Logger:  opts.Logger,
	}

	res, runErr := p.Run(ctx, spec)
	if res.Image.Name.String() != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "image=%s\n", res.Image.String())
		fmt.Fprintf(cmd.OutOrStdout(), "image_tag=%s\n", res.ImageTag)
	}
	for _, envRes := range res.Environments {
		if envRes.Err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: failed: %s\n", envRes.Environment, envRes.Err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", envRes.Environment, envRes.Rollout.State)
	}
	return runErr
}
