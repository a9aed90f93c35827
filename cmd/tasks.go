package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/taskstore"
)

func newTasksCmd() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List locally tracked tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			tasks := flags.store().List()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "no tasks")
				return nil
			}
			for _, t := range tasks {
				printTask(out, t)
			}
			return nil
		},
	}
	flags.register(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <task-id>",
		Short: "Show every slot of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, ok := flags.store().Get(args[0])
			if !ok {
				return taskstore.ErrTaskNotFound
			}
			out := cmd.OutOrStdout()
			printTask(out, task)
			for _, s := range task.ImageSlots {
				detail := s.ImageURL
				if s.Status == model.StatusFailed {
					detail = s.Error
				}
				fmt.Fprintf(out, "  [%d] %-10s %s\n", s.Index, s.Status, detail)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sync <task-id>",
		Short: "Reload a task's results from the server records",
		Long: `Fetches the durable records of a task and applies them to the local
store. Tasks started elsewhere are rebuilt from the records alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := flags.store()
			client := flags.client(store)
			taskID := args[0]

			if _, ok := store.Get(taskID); ok {
				if err := client.Reconcile(cmd.Context(), taskID); err != nil {
					return err
				}
			} else {
				records, err := client.Records(cmd.Context(), taskID)
				if err != nil {
					return err
				}
				taskType := model.TaskLifestyle
				for _, r := range records {
					if r.TaskType != "" {
						taskType = r.TaskType
						break
					}
				}
				if _, err := store.Rehydrate(taskID, taskType, records); err != nil {
					return err
				}
			}
			task, _ := store.Get(taskID)
			printTask(cmd.OutOrStdout(), task)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <task-id>",
		Short: "Forget a task locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.store().Remove(args[0])
			return nil
		},
	})

	return cmd
}
