package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"walletbeacon.dev/go/beacon/internal/client"
)

var requestChain string

func init() {
	rootCmd.AddCommand(requestCmd)
	requestCmd.Flags().StringVar(&requestChain, "blockchain", "tezos", "blockchain identifier to address")
}

var requestCmd = &cobra.Command{
	Use:   "request <peer-id>",
	Short: "Request account permissions from a paired wallet",
	Long: `Send a permission request to a paired wallet and print the accounts
it grants.

Example:
  beacon request 3c1b... --blockchain tezos`,
	Args: cobra.ExactArgs(1),
	RunE: runRequest,
}

func runRequest(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	peer, found, err := a.peers.Get(args[0])
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("unknown peer %s, pair first with: beacon pair", args[0])
	}

	d, err := client.NewDApp(a.clientConfig())
	if err != nil {
		return err
	}
	if err := d.Connect(cmd.Context()); err != nil {
		return err
	}
	defer d.Disconnect()

	accounts, err := d.RequestPermissions(cmd.Context(), peer, requestChain, nil)
	if err != nil {
		return fmt.Errorf("request permissions: %w", err)
	}

	out, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
