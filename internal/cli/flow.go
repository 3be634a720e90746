package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewFlowCmd создаёт группу команд для управления flows.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage flows",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
		newFlowCreateCmd(clientFn, outputFn),
		newFlowShowCmd(clientFn, outputFn),
		newFlowActivateCmd(clientFn, outputFn, true),
		newFlowActivateCmd(clientFn, outputFn, false),
	)

	return cmd
}

func flowRow(f *FlowResponse) []string {
	return []string{f.ID, f.Name, strconv.FormatBool(f.IsActive), strconv.Itoa(f.MaxAttempts), f.CreatedAt}
}

var flowHeaders = []string{"ID", "NAME", "ACTIVE", "MAX_ATTEMPTS", "CREATED"}

func newFlowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flows, err := client.ListFlows()
			if err != nil {
				return err
			}

			rows := make([][]string, len(flows))
			for i := range flows {
				rows[i] = flowRow(&flows[i])
			}

			out.Print(flowHeaders, rows, flows)
			return nil
		},
	}
}

func newFlowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var tags []string
	var maxAttempts int
	var schemaFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := CreateFlowRequest{
				Name:        name,
				Tags:        tags,
				MaxAttempts: maxAttempts,
			}

			if schemaFile != "" {
				data, err := os.ReadFile(schemaFile)
				if err != nil {
					return fmt.Errorf("failed to read schema file: %w", err)
				}
				if err := json.Unmarshal(data, &req.ParameterSchema); err != nil {
					return fmt.Errorf("schema file is not valid JSON: %w", err)
				}
			}

			flow, err := client.CreateFlow(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow created: %s", flow.ID))
			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Flow name (required)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Default run tags (repeatable)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Retry attempt limit for runs")
	cmd.Flags().StringVar(&schemaFile, "schema-file", "", "Path to a JSON Schema file for run parameters")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newFlowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show flow details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flow, err := client.GetFlow(args[0])
			if err != nil {
				return err
			}

			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}
}

func newFlowActivateCmd(clientFn func() *Client, outputFn func() *Output, active bool) *cobra.Command {
	use, short := "activate ID", "Activate a flow"
	if !active {
		use, short = "deactivate ID", "Deactivate a flow"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.SetFlowActive(args[0], active); err != nil {
				return err
			}

			if active {
				out.Success(fmt.Sprintf("Flow activated: %s", args[0]))
			} else {
				out.Success(fmt.Sprintf("Flow deactivated: %s", args[0]))
			}
			return nil
		},
	}
}
