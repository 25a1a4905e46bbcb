// Package main is progressctl, a command line front end to the progress
// engine. Each invocation runs one page load against the configured wallet
// and progress backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/basecamp-labs/progress-hub/internal/application/session"
	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

type options struct {
	configPath string
	jsonOutput bool
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "progressctl",
		Short:         "Inspect and record BaseCamp learning progress",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("PROGRESS_CONFIG"), "path to a YAML config file")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of text")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newStatusCmd(opts),
		newCompleteCmd(opts),
		newSwitchNetworkCmd(opts),
		newForgetCmd(opts),
		newModulesCmd(opts),
		newStateCmd(opts),
	)
	return root
}

// withRuntime opens a runtime for the command and closes it afterwards.
func withRuntime(opts *options, fn func(ctx context.Context, cmd *cobra.Command, args []string, rt *runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		rt, err := openRuntime(ctx, opts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, rt.Close())
		}()
		return fn(ctx, cmd, args, rt)
	}
}

// loadPage runs a page load. A missing identity is not an error here; the
// page still renders with an identity_unavailable notice.
func loadPage(ctx context.Context, rt *runtime) (*session.PageState, error) {
	st, err := rt.engine.LoadPage(ctx)
	if err != nil && !shared.IsIdentityUnavailable(err) {
		return nil, err
	}
	return st, nil
}

// endPage joins background writes. A failed write stays pending locally.
func endPage(ctx context.Context, rt *runtime) error {
	if err := rt.engine.EndPage(ctx); err != nil {
		rt.logger.Warn("background writes did not finish", logger.Err(err))
		return err
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Load progress and show completion per group",
		Args:  cobra.NoArgs,
		RunE: withRuntime(opts, func(ctx context.Context, cmd *cobra.Command, _ []string, rt *runtime) error {
			st, err := loadPage(ctx, rt)
			if err != nil {
				return err
			}
			_ = endPage(ctx, rt)
			return renderPage(cmd.OutOrStdout(), opts.jsonOutput, st, progress.DefaultCatalog)
		}),
	}
}

func newCompleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <module>",
		Short: "Mark a module as completed",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(opts, func(ctx context.Context, cmd *cobra.Command, args []string, rt *runtime) error {
			module := progress.ModuleName(args[0])
			if err := progress.DefaultCatalog.ValidateModule(module); err != nil {
				return err
			}

			st, err := loadPage(ctx, rt)
			if err != nil {
				return err
			}
			if err := rt.engine.RecordCompletion(ctx, module); err != nil {
				return err
			}

			synced := endPage(ctx, rt) == nil
			return renderCompletion(cmd.OutOrStdout(), opts.jsonOutput, completion{
				Identity:    st.Identity,
				Module:      module,
				Synced:      synced,
				Percentages: percentages(ctx, rt),
			})
		}),
	}
}

func newSwitchNetworkCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "switch-network",
		Short: "Ask the wallet to switch to the target network",
		Args:  cobra.NoArgs,
		RunE: withRuntime(opts, func(ctx context.Context, cmd *cobra.Command, _ []string, rt *runtime) error {
			if err := rt.engine.SwitchNetwork(ctx); err != nil {
				return err
			}

			st, err := loadPage(ctx, rt)
			if err != nil {
				return err
			}
			_ = endPage(ctx, rt)
			return renderPage(cmd.OutOrStdout(), opts.jsonOutput, st, progress.DefaultCatalog)
		}),
	}
}

func newForgetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Drop the remembered wallet and its local progress",
		Args:  cobra.NoArgs,
		RunE: withRuntime(opts, func(ctx context.Context, cmd *cobra.Command, _ []string, rt *runtime) error {
			if _, err := loadPage(ctx, rt); err != nil {
				return err
			}
			_ = endPage(ctx, rt)

			id, _ := rt.engine.Session().Identity()
			if err := rt.engine.Forget(ctx); err != nil {
				return err
			}
			if id.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "no wallet remembered")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", id)
			return nil
		}),
	}
}

func newModulesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the module catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return renderCatalog(cmd.OutOrStdout(), opts.jsonOutput, progress.DefaultCatalog)
		},
	}
}

func newStateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "List keys held in local state",
		Args:  cobra.NoArgs,
		RunE: withRuntime(opts, func(ctx context.Context, cmd *cobra.Command, _ []string, rt *runtime) error {
			keys, err := rt.local.Keys(ctx)
			if err != nil {
				return err
			}
			return renderKeys(cmd.OutOrStdout(), opts.jsonOutput, rt.config.Local.Backend, keys)
		}),
	}
}

func percentages(ctx context.Context, rt *runtime) map[progress.GroupName]int {
	out := make(map[progress.GroupName]int)
	for _, g := range progress.DefaultCatalog.Groups() {
		pct, err := rt.engine.Percentage(ctx, g.Name)
		if err != nil {
			continue
		}
		out[g.Name] = pct
	}
	return out
}
