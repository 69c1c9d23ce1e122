package root

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/procgate/go-procgate/src/dispatch"
	"github.com/procgate/go-procgate/src/json"
)

var flagCallArgs string

var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Run a single tool call through the gateway",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		disp, _, teardown, err := bringUp(ctx)
		if err != nil {
			return err
		}
		defer teardown()

		results := disp.ExecuteBatch(ctx, []dispatch.ToolCall{{
			ID:        "cli",
			Name:      args[0],
			Arguments: json.RawMessage(flagCallArgs),
		}})

		res := results[0]
		if res.Error != "" {
			return errors.New(res.Error)
		}
		out, err := json.MarshalToString(res.Result)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	callCmd.Flags().StringVar(&flagCallArgs, "args", "{}", "JSON argument payload for the tool")
	rootCmd.AddCommand(callCmd)
}
