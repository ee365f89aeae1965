package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskcore/pkg/kernel"
	"taskcore/pkg/task"
	"taskcore/pkg/workload"
)

// RunOptions holds options for the run command
type RunOptions struct {
	Timeout      time.Duration
	Policy       string
	MaxIdleTicks int
	Programs     bool
}

var runOptions = &RunOptions{}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationVarP(&runOptions.Timeout, "timeout", "t", 30*time.Second, "Stop the kernel after this long")
	runCmd.Flags().StringVar(&runOptions.Policy, "policy", "", "Override kernel.policy (round-robin or priority)")
	runCmd.Flags().IntVar(&runOptions.MaxIdleTicks, "max-idle", -1, "Override kernel.maxIdleTicks")
	runCmd.Flags().BoolVar(&runOptions.Programs, "programs", false, "List the built-in programs and exit")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot a kernel and run the configured tasks",
	Long: `Boots a kernel, spawns every task listed under "tasks" in the
configuration and dispatches them until all have terminated, the kernel
stays idle for maxIdleTicks steps or the timeout expires. Tasks still alive
at that point are killed. A table of all tasks is printed at the end.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if runOptions.Programs {
			return printPrograms(out)
		}

		kcfg := cfg.Kernel
		if runOptions.Policy != "" {
			kcfg.Policy = runOptions.Policy
		}
		if runOptions.MaxIdleTicks >= 0 {
			kcfg.MaxIdleTicks = runOptions.MaxIdleTicks
		}
		if len(cfg.Tasks) == 0 {
			return errors.New("no tasks configured; pass a file with --config")
		}

		k, err := kernel.New(kcfg, log)
		if err != nil {
			return err
		}
		procs, err := workload.Spawn(k, workload.Env{Out: out, Log: log}, cfg.Tasks)
		if err != nil {
			k.Shutdown()
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), runOptions.Timeout)
		defer cancel()
		runErr := k.Run(ctx)
		k.Shutdown()

		if runErr != nil && !errors.Is(runErr, context.DeadlineExceeded) && !errors.Is(runErr, context.Canceled) {
			return runErr
		}
		if runErr != nil {
			log.Warn("kernel interrupted, live tasks killed", zap.Error(runErr))
		}

		printTasks(out, procs)
		return nil
	},
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func stateCell(s task.State) string {
	switch s {
	case task.StateRunning:
		return cyan(s.String())
	case task.StateReady:
		return green(s.String())
	case task.StateBlocked, task.StateSuspended:
		return yellow(s.String())
	default:
		return s.String()
	}
}

func exitCell(t *task.Task) string {
	code, ok := t.ExitCode()
	if !ok {
		return "-"
	}
	s := strconv.Itoa(code)
	if code != 0 {
		return red(s)
	}
	return s
}

func printTasks(w io.Writer, procs []*kernel.Proc) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"PID", "NAME", "PRIORITY", "STATE", "EXIT", "TICKS", "STACK"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, p := range procs {
		t := p.Task()
		table.Append([]string{
			strconv.FormatUint(uint64(t.PID()), 10),
			t.Name(),
			strconv.Itoa(int(t.Priority())),
			stateCell(t.GetState()),
			exitCell(t),
			strconv.FormatUint(t.ExecutionTime(), 10),
			fmt.Sprintf("%d/%s", t.Stack().Size(), t.Stack().Growth()),
		})
	}
	table.Render()
}

func printPrograms(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"PROGRAM", "DESCRIPTION"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, name := range workload.Names() {
		table.Append([]string{name, workload.Get(name).Help})
	}
	table.Render()
	return nil
}
