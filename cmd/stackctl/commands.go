package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/stackctl"
)

// GlobalFlags holds the persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command and wires the subcommands.
func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "stackctl",
		Short: "Lifecycle controller for the local application stack",
		Long: `Stackctl stops the application stack's processes, reclaims its ports,
clears holders of the embedded database file, and manages backup and
rollback between the embedded and server storage backends.

Examples:
  stackctl stop-all --config stackctl.toml
  stackctl backup   --config stackctl.toml
  stackctl rollback --config stackctl.toml
  stackctl status   --config stackctl.toml`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "stackctl.toml", "path to TOML config file")

	root.AddCommand(
		createStopAllCommand(flags),
		createBackupCommand(flags),
		createRollbackCommand(flags),
		createStatusCommand(flags),
	)
	return root
}

// newController loads the config and builds a controller with an
// interruptible context. An operator interrupt aborts the remaining
// steps; every step is idempotent and safe to re-run.
func newController(flags *GlobalFlags) (*stackctl.Controller, error) {
	cfg, err := stackctl.LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	return stackctl.New(cfg), nil
}

func createStopAllCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every stack process, reclaim ports, clear database locks",
		Long: `Runs one stop pass: signal matched processes, reclaim the configured
ports, clear holders of the embedded database file, settle, verify.

Partial completion is a warning, not a failure: the exit code stays 0 so
subsequent operator action is never blocked, and the pass can simply be
re-run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := newController(flags)
			if err != nil {
				return err
			}
			defer ctrl.Close()
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			rep, err := ctrl.StopAll(ctx)
			if err != nil {
				// still exit 0: the operator re-runs rather than scripts failing over
				ctrl.Logger().Error("stop pass aborted", "err", err)
				return nil
			}
			printJSON(rep)
			return nil
		},
	}
}

func createBackupCommand(flags *GlobalFlags) *cobra.Command {
	var backendName string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Produce a timestamped backup artifact of a storage backend",
		Long: `Backs up the named backend into the backup directory. The server
backend runs a logical export; the embedded backend copies the database
file. Artifacts are all-or-nothing: a failed export leaves nothing at
the artifact path.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := newController(flags)
			if err != nil {
				return err
			}
			defer ctrl.Close()
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			art, err := ctrl.Backup(ctx, stackctl.BackendKind(backendName))
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%d bytes\n", art.Path, art.Size)
			return nil
		},
	}
	cmd.Flags().StringVar(&backendName, "backend", string(stackctl.BackendServer), "backend to back up (embedded|server)")
	return cmd
}

func createRollbackCommand(flags *GlobalFlags) *cobra.Command {
	var backendName string
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Stop the stack, restore the latest backup, switch backends",
		Long: `Stops the stack, restores the most recent artifact for the target
backend over the live data location, and flips the active-backend
selection record. Fails without touching live data when no artifact
exists.

Rollback does not restart the application; restart it explicitly once
the command reports success.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := newController(flags)
			if err != nil {
				return err
			}
			defer ctrl.Close()
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			rep, err := ctrl.Rollback(ctx, stackctl.BackendKind(backendName))
			if err != nil {
				return err
			}
			printJSON(rep)
			return nil
		},
	}
	cmd.Flags().StringVar(&backendName, "backend", string(stackctl.BackendEmbedded), "target backend (embedded|server)")
	return cmd
}

func createStatusCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show matching processes, port listeners, lock holders and the active backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := newController(flags)
			if err != nil {
				return err
			}
			defer ctrl.Close()
			snap, err := ctrl.Status()
			if err != nil {
				return err
			}
			sel, err := ctrl.ActiveBackend()
			if err != nil {
				return err
			}
			printJSON(struct {
				Status  any `json:"status"`
				Backend any `json:"backend"`
			}{snap, sel})
			return nil
		},
	}
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
