package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/memocas/cached"
	"github.com/unkn0wn-root/memocas/store"
)

type PruneOptions struct {
	*RootOptions
	DryRun  bool
	Orphans bool
}

type PruneResult struct {
	Files  []string `json:"files"`
	Bytes  int64    `json:"bytes"`
	DryRun bool     `json:"dry_run"`
}

func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete unlinked external files",
		Long: `Delete external files whose results were overwritten or removed.

With --orphans, also delete files no stored result refers to, such as those
left behind by a process that died before committing.

Examples:
  memoctl prune --dry-run
  memoctl prune --orphans`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "list files without deleting them")
	cmd.Flags().BoolVar(&opts.Orphans, "orphans", false, "also delete files no stored result refers to")
	return cmd
}

func runPrune(opts *PruneOptions, cmd *cobra.Command) error {
	return opts.withStore(cmd, func(ctx context.Context, st *store.Store, out *Output) error {
		live := map[string]bool{}
		if opts.Orphans {
			es, err := st.Entries(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "read entries", err)
			}
			for _, e := range es {
				for _, p := range cached.Paths(e.Value) {
					live[absPath(p)] = true
				}
			}
		}

		res := PruneResult{Files: []string{}, DryRun: opts.DryRun}
		err := filepath.WalkDir(opts.ExternalDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && path == opts.ExternalDir {
					return fs.SkipAll
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			unlinked := strings.HasSuffix(path, cached.UnlinkedSuffix)
			if !unlinked && !(opts.Orphans && !live[absPath(path)]) {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			if !opts.DryRun {
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			res.Files = append(res.Files, path)
			res.Bytes += fi.Size()
			out.Verbosef("pruned %s", path)
			return nil
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "prune "+opts.ExternalDir, err)
		}

		return out.Success(res, func(w io.Writer) error {
			verb := "deleted"
			if opts.DryRun {
				verb = "would delete"
			}
			for _, f := range res.Files {
				fmt.Fprintln(w, f)
			}
			_, err := fmt.Fprintf(w, "%s %d file(s), %d bytes\n", verb, len(res.Files), res.Bytes)
			return err
		})
	})
}

// absPath makes walked and stored paths comparable whichever way the engine
// and memoctl name the external directory.
func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
