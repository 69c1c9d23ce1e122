package root

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools discovered from every running provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, reg, teardown, err := bringUp(ctx)
		if err != nil {
			return err
		}
		defer teardown()

		for _, provider := range reg.Providers() {
			tools, err := reg.Tools(provider)
			if err != nil {
				return err
			}
			fmt.Printf("%s:\n", provider)
			for _, tool := range tools {
				if tool.Description != "" {
					fmt.Printf("  %s - %s\n", tool.Name, tool.Description)
				} else {
					fmt.Printf("  %s\n", tool.Name)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
