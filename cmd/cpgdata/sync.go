package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/broadinstitute/cpg/internal/exitcode"
)

func newSyncCmd(a *app, short, defaultPrefix string) *cobra.Command {
	var (
		output string
		bucket string
		prefix string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx, bucket)
			if err != nil {
				return withCode(exitcode.NetworkError, err)
			}
			res, err := store.Sync(ctx, prefix, output, force)
			if err != nil {
				return withCode(exitcode.StorageError, fmt.Errorf("sync s3://%s/%s: %w", bucket, prefix, err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d, skipped %d\n", res.Downloaded, res.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Local directory to sync into")
	cmd.Flags().StringVarP(&bucket, "bucket", "b", a.cfg.InventoryBucket, "Source bucket")
	cmd.Flags().StringVarP(&prefix, "prefix", "p", defaultPrefix, "Key prefix to sync")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Download files even when the local size matches")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
