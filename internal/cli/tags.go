package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/memocas/store"
)

type TagInfo struct {
	Name string `json:"name"`
	Hint string `json:"hint"`
	Key  string `json:"key"`
}

func NewTagsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "tags",
		Short:         "List tagged results",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTags(rootOpts, cmd)
		},
	}
}

func runTags(opts *RootOptions, cmd *cobra.Command) error {
	return opts.withStore(cmd, func(ctx context.Context, st *store.Store, out *Output) error {
		tags, err := st.Tags(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "read tags", err)
		}
		infos := make([]TagInfo, 0, len(tags))
		for name, id := range tags {
			infos = append(infos, TagInfo{Name: name, Hint: id.Hint(), Key: id.Key()})
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

		return out.Success(infos, func(w io.Writer) error {
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TAG\tRESULT")
			for _, t := range infos {
				fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.Hint)
			}
			return tw.Flush()
		})
	})
}
