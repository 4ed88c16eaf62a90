package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <document-id>",
	Short: "Show a receipt's status and structured result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		details, err := current.coordinator.GetByID(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), details)
	},
}
