package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunTriggerCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunHistoryCmd(clientFn, outputFn),
		newRunTransitionCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunPauseCmd(clientFn, outputFn),
		newRunResumeCmd(clientFn, outputFn),
	)

	return cmd
}

// stateOf возвращает тип текущего состояния run для таблиц.
func stateOf(run *RunResponse) string {
	if run.State == nil {
		return ""
	}
	return run.State.Type
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var flowID string
	var state string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				FlowID: flowID,
				State:  state,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "FLOW_ID", "STATE", "ATTEMPT", "CREATED"}
			rows := make([][]string, len(runs))
			for i := range runs {
				r := &runs[i]
				rows[i] = []string{r.ID, r.FlowID, stateOf(r), strconv.Itoa(r.Attempt), r.CreatedAt}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&flowID, "flow-id", "", "Filter by flow ID")
	cmd.Flags().StringVar(&state, "state", "", "Filter by state (SCHEDULED, PENDING, RUNNING, COMPLETED, FAILED, ...)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var params []string
	var tags []string
	var cacheKey string

	cmd := &cobra.Command{
		Use:   "trigger FLOW_ID",
		Short: "Trigger a new run for a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := TriggerRequest{
				Tags:     tags,
				CacheKey: cacheKey,
			}

			if len(params) > 0 {
				req.Parameters = make(map[string]any)
				for _, kv := range params {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid parameter format %q, expected KEY=VALUE", kv)
					}
					req.Parameters[parts[0]] = parts[1]
				}
			}

			run, err := client.TriggerRun(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run triggered: %s", run.ID))
			out.Print(
				[]string{"ID", "FLOW_ID", "STATE", "ATTEMPT", "CREATED"},
				[][]string{{run.ID, run.FlowID, stateOf(run), strconv.Itoa(run.Attempt), run.CreatedAt}},
				run,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&params, "param", nil, "Parameter values as KEY=VALUE (repeatable)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Additional run tags (repeatable)")
	cmd.Flags().StringVar(&cacheKey, "cache-key", "", "Result cache key")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			message := ""
			if run.State != nil {
				message = run.State.Message
			}
			out.Print(
				[]string{"ID", "FLOW_ID", "STATE", "ATTEMPT", "MESSAGE", "CREATED"},
				[][]string{{run.ID, run.FlowID, stateOf(run), strconv.Itoa(run.Attempt), message, run.CreatedAt}},
				run,
			)
			return nil
		},
	}
}

func newRunHistoryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "history RUN_ID",
		Short: "Show the state history of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			states, err := client.GetRunHistory(args[0])
			if err != nil {
				return err
			}

			headers := []string{"TYPE", "TIMESTAMP", "MESSAGE", "RESULT_REF"}
			rows := make([][]string, len(states))
			for i, s := range states {
				rows[i] = []string{s.Type, s.Timestamp, s.Message, s.ResultRef}
			}

			out.Print(headers, rows, states)
			return nil
		},
	}
}

func newRunTransitionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var message string
	var force bool

	cmd := &cobra.Command{
		Use:   "transition RUN_ID TYPE",
		Short: "Propose a state transition for a run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.ProposeTransition(args[0], TransitionRequest{
				Type:    args[1],
				Message: message,
				Force:   force,
			})
			if err != nil {
				return err
			}

			switch result.Status {
			case "COMMITTED":
				out.Success(fmt.Sprintf("Transition committed: %s", result.State.Type))
			case "WAIT":
				out.Success(fmt.Sprintf("Transition delayed by %s, retry after %s", result.Rule, result.RetryAfter))
			default:
				out.Success(fmt.Sprintf("Transition %s: %s", result.Status, result.Reason))
			}
			out.JSON(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&message, "message", "", "Transition message")
	cmd.Flags().BoolVar(&force, "force", false, "Override the terminal-state guard")

	return cmd
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			state := ""
			if result.State != nil {
				state = result.State.Type
			}
			out.Success(fmt.Sprintf("Run %s: %s", args[0], state))
			return nil
		},
	}
}

func newRunPauseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "pause ID",
		Short: "Pause a run before its next start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.PauseRun(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run paused: %s", run.ID))
			return nil
		},
	}
}

func newRunResumeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "resume ID",
		Short: "Resume a paused run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.ResumeRun(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run resumed: %s (%s)", run.ID, stateOf(run)))
			return nil
		},
	}
}
