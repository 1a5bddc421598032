package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/memocas/cached"
	"github.com/unkn0wn-root/memocas/store"
)

// StoreInfo summarizes a store.
type StoreInfo struct {
	ID            string `json:"id"`
	Database      string `json:"database"`
	ExternalDir   string `json:"external_dir"`
	Entries       int    `json:"entries"`
	Inline        int    `json:"inline"`
	External      int    `json:"external"`
	Tuples        int    `json:"tuples"`
	Tags          int    `json:"tags"`
	StoredBytes   int64  `json:"stored_bytes"`
	ExternalBytes int64  `json:"external_bytes"`
}

func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "info",
		Short:         "Summarize the store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(rootOpts, cmd)
		},
	}
}

func runInfo(opts *RootOptions, cmd *cobra.Command) error {
	return opts.withStore(cmd, func(ctx context.Context, st *store.Store, out *Output) error {
		es, err := st.Entries(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "read entries", err)
		}
		info := StoreInfo{ID: st.ID(), Database: opts.Database, ExternalDir: opts.ExternalDir, Entries: len(es)}
		for _, e := range es {
			switch v := e.Value.(type) {
			case cached.External:
				info.External++
				info.ExternalBytes += v.Size
			case cached.Tuple:
				info.Tuples++
				for _, it := range v.Items {
					if x, ok := it.(cached.External); ok {
						info.ExternalBytes += x.Size
					}
				}
			default:
				info.Inline++
			}
			info.StoredBytes += e.Value.StoredSize()
			if e.Tag != "" {
				info.Tags++
			}
		}

		return out.Success(info, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "store %s\n  database:     %s\n  external dir: %s\n  entries:      %d (%d inline, %d external, %d tuples)\n  tagged:       %d\n  stored:       %d bytes (%d external)\n",
				info.ID, info.Database, info.ExternalDir, info.Entries, info.Inline, info.External, info.Tuples,
				info.Tags, info.StoredBytes, info.ExternalBytes)
			return err
		})
	})
}
