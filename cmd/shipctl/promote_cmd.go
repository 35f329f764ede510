package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipway/shipway/pkg/image"
	"github.com/shipway/shipway/pkg/promote"
)

type promoteOpts struct {
	*rootOpts
	imageDigestRef string
	promoteTo      string
}

func newPromote(parent *rootOpts) *promoteOpts {
	return &promoteOpts{rootOpts: parent}
}

func (opts *promoteOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "re-point environment tags at an already-published digest",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVar(&opts.imageDigestRef, "image-digest-ref", "", "digest-pinned image reference, as printed by build")
	cmd.Flags().StringVar(&opts.promoteTo, "promote-to", "", "comma-separated target tags, e.g. dev,staging")
	return cmd
}

func (opts *promoteOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if opts.imageDigestRef == "" {
		return newUsageError("please supply --image-digest-ref")
	}

	ref, err := image.ParseCanonicalRef(opts.imageDigestRef)
	if err != nil {
		return err
	}
	targets, err := promote.ParseTargets(opts.promoteTo)
	if err != nil {
		return err
	}

	stage := promote.NewStage(opts.registryClient(ref.Name.Registry()), opts.Logger)
	res, err := stage.Run(context.Background(), ref, targets)
	for _, tag := range res.Applied {
		fmt.Fprintf(cmd.OutOrStdout(), "Promoted %s -> %s\n", ref.String(), tag)
	}
	return err
}
