package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shipway/shipway/pkg/registry"
)

type rootOpts struct {
	Logger log.Logger

	AWSRegion     string
	RegistryRPS   int
	RegistryBurst int
}

func newRoot(logger log.Logger) *rootOpts {
	return &rootOpts{Logger: logger}
}

var rootLongHelp = strings.TrimSpace(`
shipctl builds an image once, promotes it between environments by
digest, and deploys it.

Workflow:
  shipctl build --app-name helloworld --image-name ghcr.io/example/helloworld   # Build, verify, publish; prints the digest.
  shipctl promote --image-digest-ref <ref@sha256:...> --promote-to dev,staging  # Re-point environment tags at the digest.
  shipctl deploy --namespace helloworld --deployment helloworld \
      --container app --image-ref <ref@sha256:...>                              # Pin the workload to the digest.
  shipctl run --file shipway.yaml                                               # All of the above, per environment.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "shipctl",
		Long:         rootLongHelp,
		SilenceUsage: true,
	}
	// accept push_latest as well as push-latest, and so on
	cmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.Replace(name, "_", "-", -1))
	})
	cmd.PersistentFlags().StringVar(&opts.AWSRegion, "aws-region", "",
		"AWS region; enables ECR registry authentication and is used for federated cluster credentials")
	cmd.PersistentFlags().IntVar(&opts.RegistryRPS, "registry-rps", 200,
		"maximum registry requests per second per host")
	cmd.PersistentFlags().IntVar(&opts.RegistryBurst, "registry-burst", 125,
		"maximum registry request burst per host")

	cmd.AddCommand(
		newBuild(opts).Command(),
		newPromote(opts).Command(),
		newDeploy(opts).Command(),
		newRun(opts).Command(),
		newVersionCommand(),
	)

	return cmd
}

// registryClient assembles the registry stack for one host: rate
// limited transport, ECR-aware keychain, instrumentation.
func (opts *rootOpts) registryClient(host string) registry.Client {
	transport := registry.RateLimitedRoundTripper(http.DefaultTransport, registry.RateLimiterConfig{
		RPS:   opts.RegistryRPS,
		Burst: opts.RegistryBurst,
		Wait:  10 * time.Second,
	}, host)

	keychain := authn.DefaultKeychain
	if opts.AWSRegion != "" {
		keychain = registry.ECRKeychain(keychain, registry.AWSRegistryConfig{Region: opts.AWSRegion})
	}

	return registry.NewInstrumentedClient(registry.NewRemote(
		registry.WithTransport(transport),
		registry.WithKeychain(keychain),
	))
}
