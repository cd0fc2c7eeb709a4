package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"
	cronguard "tools.zach/dev/cronguard"
	"tools.zach/dev/cronguard/internal/atomicfile"
	"tools.zach/dev/cronguard/internal/history"
	"tools.zach/dev/cronguard/internal/lock"
	"tools.zach/dev/cronguard/internal/logger"
	"tools.zach/dev/cronguard/internal/paths"
)

// ///////////////////////////////////////////////
// status
// ///////////////////////////////////////////////

func newStatusCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [-- command]",
		Short: "Report whether an instance currently holds the lock",
		Long: `Check the lock without running anything. Prints "idle" and exits 0 when
the lock is free, or "running (pid N)" and exits with the busy code when
another instance holds it. A command line may be given to derive the
default lock path the same way a guarded run would.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*gf)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Task.Command, cfg.Task.Args = args[0], args[1:]
			}
			if cfg.Lock.Path == "" && cfg.Task.Command == "" {
				return usageError(errors.New("no lock path: pass --lock, set lock.path, or name the task command"))
			}

			path := cfg.LockPath()
			held, pid, err := lock.New(path).Inspect()
			au := colorizer(cmd.OutOrStdout())
			switch {
			case err != nil:
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", au.Red("error"), path)
				return &exitError{code: cfg.ExitCodes.LockFailure, err: err}
			case !held:
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", au.Green("idle"), path)
				return nil
			case pid > 0:
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", au.Yellow(fmt.Sprintf("running (pid %d)", pid)), path)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", au.Yellow("running"), path)
			}
			return &exitError{code: cfg.ExitCodes.Busy}
		},
	}
}

// ///////////////////////////////////////////////
// history
// ///////////////////////////////////////////////

func newHistoryCmd(gf *globalFlags) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*gf)
			if err != nil {
				return err
			}
			if err := requireSetting(cfg.History.Path, "history.path"); err != nil {
				return err
			}
			if _, err := os.Stat(cfg.History.Path); err != nil {
				return configError(fmt.Errorf("history database: %w", err))
			}

			store, err := history.Open(cfg.History.Path, 0)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(context.Background(), n)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return writeHistory(out, colorizer(out), runs)
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of runs to show")
	return cmd
}

// writeHistory prints runs as a table. The coloured outcome is the last
// column so its escape sequences never count towards tabwriter padding.
func writeHistory(w io.Writer, au aurora.Aurora, runs []history.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tDURATION\tEXIT\tOUTCOME")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.RunID,
			r.Started.Local().Format(time.DateTime),
			r.Duration.Round(time.Millisecond),
			r.ExitCode,
			outcomeColor(au, r.Outcome, r.ExitCode),
		)
	}
	return tw.Flush()
}

// ///////////////////////////////////////////////
// logs
// ///////////////////////////////////////////////

func newLogsCmd(gf *globalFlags) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the last lines of the log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*gf)
			if err != nil {
				return err
			}
			if err := requireSetting(cfg.Log.File, "log.file"); err != nil {
				return err
			}
			tail, err := logger.ReadTail(cfg.Log.File, n)
			if err != nil {
				return fmt.Errorf("read log: %w", err)
			}
			if tail != "" {
				fmt.Fprintln(cmd.OutOrStdout(), tail)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 50, "number of lines to show")
	return cmd
}

// ///////////////////////////////////////////////
// init-config
// ///////////////////////////////////////////////

func newInitConfigCmd(gf *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the annotated default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := paths.ResolveConfig(gf.configPath)
			if len(args) == 1 {
				path = args[0]
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}

			write := atomicfile.WriteNew
			if force {
				write = atomicfile.Write
			}
			if err := write(path, cronguard.DefaultConfigTOML, 0o644); err != nil {
				if errors.Is(err, os.ErrExist) {
					return usageError(fmt.Errorf("%s already exists (use --force to overwrite)", path))
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

// ///////////////////////////////////////////////
// version
// ///////////////////////////////////////////////

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", paths.BinaryName, resolveVersion())
		},
	}
}
