package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/memocas/cached"
	"github.com/unkn0wn-root/memocas/store"
)

// EntryInfo describes one stored result.
type EntryInfo struct {
	Hint       string    `json:"hint"`
	Key        string    `json:"key"`
	Storage    string    `json:"storage"` // inline | external | tuple
	StoredSize int64     `json:"stored_size"`
	SaveTime   string    `json:"save_time"`
	SavedAt    time.Time `json:"saved_at"`
	Tag        string    `json:"tag,omitempty"`
	Files      []string  `json:"files,omitempty"`
}

type ListOptions struct {
	*RootOptions
	Keys bool
}

func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List stored results",
		Long: `List every result in the store with its size, storage tier and tag.

Examples:
  memoctl ls --db .memocas/memo.db
  memoctl ls --keys --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Keys, "keys", false, "print full identity keys in text output")
	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	return opts.withStore(cmd, func(ctx context.Context, st *store.Store, out *Output) error {
		es, err := st.Entries(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "read entries", err)
		}
		infos := make([]EntryInfo, len(es))
		for i, e := range es {
			infos[i] = describeEntry(e)
		}
		sort.SliceStable(infos, func(i, j int) bool { return infos[i].SavedAt.Before(infos[j].SavedAt) })
		out.Verbosef("%d entries in %s", len(infos), opts.Database)

		return out.Success(infos, func(w io.Writer) error {
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RESULT\tSTORAGE\tSIZE\tSAVE\tSAVED AT\tTAG")
			for _, e := range infos {
				name := e.Hint
				if opts.Keys {
					name = e.Key
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", name, e.Storage, e.StoredSize, e.SaveTime, e.SavedAt.Format(time.RFC3339), e.Tag)
			}
			return tw.Flush()
		})
	})
}

func describeEntry(e store.Entry) EntryInfo {
	info := EntryInfo{
		Hint:       e.ID.Hint(),
		Key:        e.ID.Key(),
		StoredSize: e.Metadata.StoredSize,
		SaveTime:   e.Metadata.SaveDuration.String(),
		SavedAt:    e.Metadata.SavedAt.UTC(),
		Tag:        e.Tag,
	}
	info.Files = cached.Paths(e.Value)
	switch e.Value.(type) {
	case cached.External:
		info.Storage = "external"
	case cached.Tuple:
		info.Storage = "tuple"
	default:
		info.Storage = "inline"
	}
	return info
}
