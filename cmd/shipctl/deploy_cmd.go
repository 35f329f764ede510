package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/shipway/shipway/pkg/cluster"
	"github.com/shipway/shipway/pkg/cluster/kubernetes"
	"github.com/shipway/shipway/pkg/deploy"
	"github.com/shipway/shipway/pkg/image"
)

type deployOpts struct {
	*rootOpts
	environment        string
	namespace          string
	manifestPath       string
	deployment         string
	container          string
	imageRef           string
	roleARN            string
	clusterName        string
	generateKubeconfig bool
	useOverlayTool     bool
	kubeconfig         string
	pollInterval       time.Duration
	rolloutTimeout     time.Duration
}

func newDeploy(parent *rootOpts) *deployOpts {
	return &deployOpts{rootOpts: parent}
}

func (opts *deployOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "apply manifests and pin the workload to a digest-pinned image",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVar(&opts.environment, "environment", "", "environment name, used for manifest lookup and reporting")
	cmd.Flags().StringVar(&opts.namespace, "namespace", "", "namespace the workload lives in; created if absent")
	cmd.Flags().StringVar(&opts.manifestPath, "manifest-path", "", "directory holding the manifests (or the overlay, with --use-overlay-tool)")
	cmd.Flags().StringVar(&opts.deployment, "deployment", "", "name of the deployment to update")
	cmd.Flags().StringVar(&opts.container, "container", "", "name of the container to pin")
	cmd.Flags().StringVar(&opts.imageRef, "image-ref", "", "digest-pinned image reference, as printed by build")
	cmd.Flags().StringVar(&opts.roleARN, "aws-role-to-assume", "", "IAM role to assume for cluster access")
	cmd.Flags().StringVar(&opts.clusterName, "cluster-name", "", "EKS cluster name, for federated credentials")
	cmd.Flags().BoolVar(&opts.generateKubeconfig, "generate-kubeconfig", true, "mint a transient kubeconfig from the ambient cloud identity")
	cmd.Flags().BoolVar(&opts.useOverlayTool, "use-overlay-tool", false, "compose manifests with the overlay tool instead of reading files")
	cmd.Flags().StringVar(&opts.kubeconfig, "kubeconfig", "", "pre-existing kubeconfig to use instead of a federated credential")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", deploy.DefaultPollInterval, "how often to poll the rollout")
	cmd.Flags().DurationVar(&opts.rolloutTimeout, "rollout-timeout", deploy.DefaultTimeout, "how long to wait for the rollout to converge")
	return cmd
}

func (opts *deployOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	for flag, value := range map[string]string{
		"--namespace":  opts.namespace,
		"--deployment": opts.deployment,
		"--container":  opts.container,
		"--image-ref":  opts.imageRef,
	} {
		if value == "" {
			return newUsageError("please supply " + flag)
		}
	}

	ref, err := image.ParseCanonicalRef(opts.imageRef)
	if err != nil {
		return err
	}

	var credential deploy.CredentialMethod
	switch {
	case opts.generateKubeconfig && opts.clusterName != "":
		credential = deploy.FederatedCredential{
			Region:      opts.AWSRegion,
			ClusterName: opts.clusterName,
			RoleARN:     opts.roleARN,
		}
	case opts.kubeconfig != "":
		credential = deploy.StaticCredential{KubeconfigPath: opts.kubeconfig}
	}

	stage := deploy.NewStage(opts.newCluster, opts.Logger)
	record, err := stage.Run(context.Background(), deploy.Config{
		Environment:  opts.environment,
		Namespace:    opts.namespace,
		Deployment:   opts.deployment,
		Container:    opts.container,
		Image:        ref,
		Credential:   credential,
		ManifestPath: opts.manifestPath,
		UseOverlay:   opts.useOverlayTool,
		PollInterval: opts.pollInterval,
		Timeout:      opts.rolloutTimeout,
	})
	if record != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "state=%s ready=%d/%d\n", record.State, record.Ready, record.Desired)
		for _, msg := range record.Messages {
			fmt.Fprintf(cmd.OutOrStderr(), "  %s\n", msg)
		}
	}
	return err
}

func (opts *deployOpts) newCluster(kubeconfig string) (cluster.Cluster, error) {
	restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, err
	}
	// bound every API round trip, so a hung API server cannot stall
	// the rollout wait past its own deadline
	restConfig.Timeout = 30 * time.Second
	client, err := k8sclient.NewForConfig(restConfig)
	if err != nil {
		return nil, err
	}
	applier := kubernetes.NewKubectl("kubectl", restConfig)
	return kubernetes.NewCluster(client, applier, opts.Logger), nil
}
