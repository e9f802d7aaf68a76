package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/veyh/pueue/internal/config"
	"github.com/veyh/pueue/internal/logfiles"
	"github.com/veyh/pueue/internal/protocol"
	"github.com/veyh/pueue/pkg/client"
)

var (
	configPath string
	cli        *client.Client
)

func main() {
	root := &cobra.Command{
		Use:           "pueue",
		Short:         "A client for the pueue task queue daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cli, err = client.New(&cfg.Shared)
			return err
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	root.AddCommand(
		addCmd(), statusCmd(), logCmd(),
		startCmd(), pauseCmd(), killCmd(),
		stashCmd(), enqueueCmd(), restartCmd(),
		cleanCmd(), removeCmd(), switchCmd(), sendCmd(),
		groupCmd(), parallelCmd(), resetCmd(), editCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		id, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid task id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printMessage(message string, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(message)
	return nil
}

func addCmd() *cobra.Command {
	var (
		group     string
		label     string
		stashed   bool
		immediate bool
		delay     time.Duration
		after     []int
		workdir   string
	)
	cmd := &cobra.Command{
		Use:   "add [command...]",
		Short: "Enqueue a command for execution",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			path := workdir
			if path == "" {
				path, _ = os.Getwd()
			}
			req := &protocol.AddRequest{
				Command:          command,
				Path:             path,
				Group:            group,
				Label:            label,
				Stashed:          stashed,
				Dependencies:     after,
				StartImmediately: immediate,
			}
			if delay > 0 {
				at := time.Now().Add(delay)
				req.EnqueueAt = &at
			}
			return printMessage(cli.Add(req))
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "group to enqueue into")
	cmd.Flags().StringVarP(&label, "label", "l", "", "label for the task")
	cmd.Flags().BoolVarP(&stashed, "stashed", "s", false, "create the task in stashed state")
	cmd.Flags().BoolVarP(&immediate, "immediate", "i", false, "start the task immediately")
	cmd.Flags().DurationVarP(&delay, "delay", "d", 0, "stash and enqueue after this delay")
	cmd.Flags().IntSliceVarP(&after, "after", "a", nil, "start only after these task ids succeeded")
	cmd.Flags().StringVarP(&workdir, "working-directory", "w", "", "working directory for the command")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Display the daemon's task and group state",
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := cli.Status()
			if err != nil {
				return err
			}

			groups := make([]string, 0, len(st.Groups))
			for name := range st.Groups {
				groups = append(groups, name)
			}
			sort.Strings(groups)
			for _, name := range groups {
				g := st.Groups[name]
				fmt.Printf("Group %q (%s, parallel: %d)\n", name, g.Status, g.Parallel)
			}

			ids := make([]int, 0, len(st.Tasks))
			for id := range st.Tasks {
				ids = append(ids, id)
			}
			sort.Ints(ids)
			for _, id := range ids {
				t := st.Tasks[id]
				line := fmt.Sprintf("%4d  %-8s  %-10s  %s", t.ID, t.Status, t.Group, t.Command)
				if t.Result != nil {
					line += fmt.Sprintf("  [%s]", t.Result)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "log [task-ids...]",
		Short: "Print the output of tasks",
		RunE: func(_ *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			logs, err := cli.Log(ids, limit)
			if err != nil {
				return err
			}
			ordered := make([]int, 0, len(logs))
			for id := range logs {
				ordered = append(ordered, id)
			}
			sort.Ints(ordered)
			for _, id := range ordered {
				fmt.Printf("--- task %d stdout ---\n%s", id, logs[id].Stdout)
				if len(logs[id].Stderr) > 0 {
					fmt.Printf("--- task %d stderr ---\n%s", id, logs[id].Stderr)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64VarP(&limit, "limit", "n", logfiles.DefaultTailBytes, "bytes to read per stream")
	return cmd
}

func startCmd() *cobra.Command {
	var group string
	var all bool
	cmd := &cobra.Command{
		Use:   "start [task-ids...]",
		Short: "Resume tasks or groups",
		RunE: func(_ *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return printMessage(cli.Start(&protocol.StartRequest{TaskIDs: ids, Group: group, All: all}))
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "resume this group")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "resume all groups")
	return cmd
}

func pauseCmd() *cobra.Command {
	var group string
	var all bool
	cmd := &cobra.Command{
		Use:   "pause [task-ids...]",
		Short: "Pause tasks or groups",
		RunE: func(_ *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return printMessage(cli.Pause(&protocol.PauseRequest{TaskIDs: ids, Group: group, All: all}))
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "pause this group")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "pause all groups")
	return cmd
}

func killCmd() *cobra.Command {
	var group, signal string
	var all bool
	cmd := &cobra.Command{
		Use:   "kill [task-ids...]",
		Short: "Kill running tasks",
		RunE: func(_ *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return printMessage(cli.Kill(&protocol.KillRequest{TaskIDs: ids, Group: group, All: all, Signal: signal}))
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "kill all tasks of this group")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "kill all running tasks")
	cmd.Flags().StringVarP(&signal, "signal", "s", "", "signal to send (default SIGTERM)")
	return cmd
}

func stashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stash [task-ids...]",
		Short: "Put queued tasks on hold",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return printMessage(cli.Stash(ids))
		},
	}
}

func enqueueCmd() *cobra.Command {
	var delay time.Duration
	var includeLocked bool
	cmd := &cobra.Command{
		Use:   "enqueue [task-ids...]",
		Short: "Release stashed tasks back into the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			req := &protocol.EnqueueRequest{TaskIDs: ids, IncludeLocked: includeLocked}
			if delay > 0 {
				at := time.Now().Add(delay)
				req.EnqueueAt = &at
			}
			return printMessage(cli.Enqueue(req))
		},
	}
	cmd.Flags().DurationVarP(&delay, "delay", "d", 0, "enqueue after this delay")
	cmd.Flags().BoolVar(&includeLocked, "locked", false, "also release locked tasks")
	return cmd
}

func restartCmd() *cobra.Command {
	var inPlace bool
	cmd := &cobra.Command{
		Use:   "restart [task-ids...]",
		Short: "Run finished tasks again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return printMessage(cli.Restart(&protocol.RestartRequest{TaskIDs: ids, InPlace: inPlace}))
		},
	}
	cmd.Flags().BoolVarP(&inPlace, "in-place", "i", false, "reuse the existing task instead of adding a new one")
	return cmd
}

func cleanCmd() *cobra.Command {
	var group string
	var successfulOnly bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove finished tasks and their logs",
		RunE: func(_ *cobra.Command, _ []string) error {
			return printMessage(cli.Clean(&protocol.CleanRequest{Group: group, SuccessfulOnly: successfulOnly}))
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "only clean this group")
	cmd.Flags().BoolVarP(&successfulOnly, "successful-only", "s", false, "keep failed tasks")
	return cmd
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [task-ids...]",
		Short: "Remove tasks that are not running",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return printMessage(cli.Remove(ids))
		},
	}
}

func switchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch [task-id] [task-id]",
		Short: "Swap the queue positions of two tasks",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return printMessage(cli.Switch(ids[0], ids[1]))
		},
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send [task-id] [input]",
		Short: "Send input to a running task's stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return printMessage(cli.Send(id, []byte(args[1]+"\n")))
		},
	}
}

func groupCmd() *cobra.Command {
	var parallel int
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage groups",
		RunE: func(_ *cobra.Command, _ []string) error {
			groups, err := cli.Groups()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(groups))
			for name := range groups {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				g := groups[name]
				fmt.Printf("%s (%s, parallel: %d)\n", name, g.Status, g.Parallel)
			}
			return nil
		},
	}
	addSub := &cobra.Command{
		Use:   "add [name]",
		Short: "Add a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return printMessage(cli.GroupAdd(args[0], parallel))
		},
	}
	addSub.Flags().IntVarP(&parallel, "parallel", "p", 1, "parallel limit for the new group")
	removeSub := &cobra.Command{
		Use:   "remove [name]",
		Short: "Remove an empty group",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return printMessage(cli.GroupRemove(args[0]))
		},
	}
	cmd.AddCommand(addSub, removeSub)
	return cmd
}

func parallelCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "parallel [limit]",
		Short: "Set a group's parallel limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			limit, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid limit %q", args[0])
			}
			return printMessage(cli.Parallel(group, limit))
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "group to configure")
	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Kill everything and clear all tasks",
		RunE: func(_ *cobra.Command, _ []string) error {
			return printMessage(cli.Reset())
		},
	}
}

func editCmd() *cobra.Command {
	var command, path, label string
	var restore bool
	cmd := &cobra.Command{
		Use:   "edit [task-id]",
		Short: "Edit the command of a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			if restore {
				return printMessage(cli.EditRestore(id))
			}
			current, err := cli.EditOpen(id)
			if err != nil {
				return err
			}
			if command == "" {
				// Nothing to change; unlock again.
				return printMessage(cli.EditRestore(id))
			}
			req := &protocol.EditRequest{TaskID: id, Command: command, Path: path, Label: label}
			if req.Path == "" {
				req.Path = current.Path
			}
			return printMessage(cli.Edit(req))
		},
	}
	cmd.Flags().StringVarP(&command, "command", "m", "", "new command")
	cmd.Flags().StringVarP(&path, "path", "p", "", "new working directory")
	cmd.Flags().StringVarP(&label, "label", "l", "", "new label")
	cmd.Flags().BoolVar(&restore, "abort", false, "unlock a task stuck in editing")
	return cmd
}
