package root

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/procgate/go-procgate/src/dispatch"
	"github.com/procgate/go-procgate/src/json"
)

var flagBatchFile string

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run a batch of tool calls from a JSON file",
	Long: "Reads a JSON array of {id, name, arguments} calls, fans them out " +
		"concurrently, and prints one result per call.",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(flagBatchFile)
		if err != nil {
			return fmt.Errorf("could not read batch file %q: %w", flagBatchFile, err)
		}
		var calls []dispatch.ToolCall
		if err := json.Unmarshal(data, &calls); err != nil {
			return fmt.Errorf("invalid batch file %q: %w", flagBatchFile, err)
		}

		ctx := context.Background()
		disp, _, teardown, err := bringUp(ctx)
		if err != nil {
			return err
		}
		defer teardown()

		results := disp.ExecuteBatch(ctx, calls)
		out, err := json.MarshalToString(results)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&flagBatchFile, "file", "calls.json", "path to the JSON file of tool calls")
	rootCmd.AddCommand(batchCmd)
}
