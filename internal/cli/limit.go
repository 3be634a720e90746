package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewLimitCmd создаёт группу команд для управления лимитами конкурентности.
func NewLimitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limit",
		Short: "Manage concurrency limits",
	}

	cmd.AddCommand(
		newLimitListCmd(clientFn, outputFn),
		newLimitSetCmd(clientFn, outputFn),
		newLimitDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

func newLimitListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List concurrency limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			limits, err := client.ListLimits()
			if err != nil {
				return err
			}

			headers := []string{"KEY", "SLOTS", "HELD"}
			rows := make([][]string, len(limits))
			for i, l := range limits {
				rows[i] = []string{l.Key, strconv.Itoa(l.Slots), strconv.Itoa(l.Held)}
			}

			out.Print(headers, rows, limits)
			return nil
		},
	}
}

func newLimitSetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var slots int

	cmd := &cobra.Command{
		Use:   "set KEY",
		Short: "Set a concurrency limit for a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			limit, err := client.UpsertLimit(args[0], slots)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Limit set: %s = %d slots", limit.Key, limit.Slots))
			return nil
		},
	}

	cmd.Flags().IntVar(&slots, "slots", 1, "Number of slots")

	return cmd
}

func newLimitDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete a concurrency limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteLimit(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Limit deleted: %s", args[0]))
			return nil
		},
	}
}
