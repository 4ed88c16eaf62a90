package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var relayOnce bool

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Dispatch outbox messages that never reached the broker",
	Long: `Dispatch outbox messages that never reached the broker.

Without --once the relay keeps running until interrupted, like the loop
inside the server. With --once every pending message is dispatched
regardless of age and the command exits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !relayOnce {
			return current.relay.Run(cmd.Context())
		}
		sent, err := current.relay.Drain(cmd.Context())
		if err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dispatched %d message(s).\n", sent)
		return nil
	},
}

func init() {
	relayCmd.Flags().BoolVar(&relayOnce, "once", false, "drain the outbox once and exit")
}
