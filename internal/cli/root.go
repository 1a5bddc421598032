// Package cli implements memoctl, which inspects and maintains a persisted
// memocas store.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/memocas/backend/sqlite"
	"github.com/unkn0wn-root/memocas/extension"
	"github.com/unkn0wn-root/memocas/log"
	logzl "github.com/unkn0wn-root/memocas/log/zerolog"
	"github.com/unkn0wn-root/memocas/store"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

var ValidFormats = []string{FormatText, FormatJSON}

// RootOptions holds the global flags.
type RootOptions struct {
	Verbose     bool
	Format      string
	Database    string
	ExternalDir string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "memoctl",
		Short: "Inspect and maintain a memocas result store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log store activity to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", ".memocas/memo.db", "path to the SQLite store")
	cmd.PersistentFlags().StringVar(&opts.ExternalDir, "external-dir", ".memocas/ext", "directory holding external result files")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewTagsCommand(opts))
	cmd.AddCommand(NewForgetCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))
	cmd.AddCommand(NewInfoCommand(opts))
	return cmd
}

func (o *RootOptions) output(cmd *cobra.Command) *Output {
	return &Output{Format: o.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: o.Verbose}
}

func (o *RootOptions) logger(w io.Writer) log.Logger {
	if !o.Verbose {
		return log.Nop{}
	}
	return logzl.Logger{L: zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).Level(zerolog.DebugLevel)}
}

// openStore opens the store at --db. The database must exist; memoctl never
// creates one.
func (o *RootOptions) openStore(ctx context.Context, cmd *cobra.Command) (*store.Store, error) {
	if _, err := os.Stat(o.Database); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("no store at %s", o.Database))
		}
		return nil, WrapExitError(ExitCommandError, "stat store", err)
	}
	lg := o.logger(cmd.ErrOrStderr())
	ext, err := extension.NewRegistry(extension.Options{Logger: lg, Plugins: []extension.Plugin{extension.NewBytes()}})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load plugins", err)
	}
	be, err := sqlite.Open(o.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	st, err := store.Open(ctx, store.Options{
		Backend:     be,
		Serializer:  ext,
		ExternalDir: o.ExternalDir,
		Logger:      lg,
	})
	if err != nil {
		_ = be.Close()
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	return st, nil
}

// withStore runs fn against the opened store.
func (o *RootOptions) withStore(cmd *cobra.Command, fn func(ctx context.Context, st *store.Store, out *Output) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := o.openStore(ctx, cmd)
	if err != nil {
		return err
	}
	err = fn(ctx, st, o.output(cmd))
	if cerr := st.Close(ctx); err == nil && cerr != nil {
		err = WrapExitError(ExitCommandError, "close store", cerr)
	}
	return err
}

// Execute runs memoctl with args, reports a failure in the selected format
// and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	format, _ := cmd.PersistentFlags().GetString("format")
	if format != FormatJSON {
		format = FormatText
	}
	(&Output{Format: format, Writer: stdout, ErrWriter: stderr}).Error(err)
	return GetExitCode(err)
}
