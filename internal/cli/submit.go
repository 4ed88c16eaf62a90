package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/feichai0017/receipt-processor/internal/service/receipt"
)

var submitCategories []string

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Upload a receipt and start the pipeline for it",
	Long: `Upload a receipt image or PDF and start the pipeline for it.

Examples:
  receiptctl submit cupom.jpg
  receiptctl submit nota.pdf --category food --category cleaning`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringArrayVarP(&submitCategories, "category", "c", nil, "category hint for the assistant (repeatable)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer f.Close()

	doc, err := current.coordinator.Submit(cmd.Context(), receipt.Upload{
		Filename: filepath.Base(args[0]),
		Reader:   f,
	}, submitCategories)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), doc)
}
