package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/memocas/identity"
	"github.com/unkn0wn-root/memocas/store"
)

type ForgetOptions struct {
	*RootOptions
	Tags []string
	All  bool
}

type ForgetResult struct {
	Removed []string `json:"removed"`
	Missing []string `json:"missing,omitempty"`
}

func NewForgetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ForgetOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Remove stored results",
		Long: `Remove tagged results, or every result with --all. External files of
removed results are renamed to *.unlinked; run prune to delete them.

Examples:
  memoctl forget --tag baseline
  memoctl forget --all`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForget(opts, cmd)
		},
	}
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "tag of a result to remove (repeatable)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "remove every stored result")
	cmd.MarkFlagsMutuallyExclusive("tag", "all")
	cmd.MarkFlagsOneRequired("tag", "all")
	return cmd
}

func runForget(opts *ForgetOptions, cmd *cobra.Command) error {
	return opts.withStore(cmd, func(ctx context.Context, st *store.Store, out *Output) error {
		var (
			ids []identity.ID
			res ForgetResult
		)
		if opts.All {
			all, err := st.IDs(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "read entries", err)
			}
			ids = all
		}
		for _, name := range opts.Tags {
			id, ok, err := st.TagIdentity(ctx, name)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("resolve tag %q", name), err)
			}
			if !ok {
				res.Missing = append(res.Missing, name)
				continue
			}
			ids = append(ids, id)
		}

		res.Removed = []string{}
		for _, id := range ids {
			removed, err := st.Remove(ctx, id)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("remove %s", id.Hint()), err)
			}
			if removed {
				res.Removed = append(res.Removed, id.Hint())
				out.Verbosef("removed %s", id.Key())
			}
		}

		if len(res.Missing) > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("removed %d result(s); no result tagged %q", len(res.Removed), res.Missing))
		}
		return out.Success(res, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "removed %d result(s)\n", len(res.Removed))
			return err
		})
	})
}