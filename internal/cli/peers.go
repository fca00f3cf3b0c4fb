package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"walletbeacon.dev/go/beacon/internal/client"
)

func init() {
	rootCmd.AddCommand(peersCmd)

	peersCmd.AddCommand(peersListCmd)
	peersCmd.AddCommand(peersRemoveCmd)
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Peer management commands",
	Long: `Manage paired peers.

Peers are added by pairing. Removing a peer tears down the session and
notifies the counterpart.`,
}

var peersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List paired peers",
	RunE:  runPeersList,
}

func runPeersList(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	peers, err := a.peers.List()
	if err != nil {
		return fmt.Errorf("list peers: %w", err)
	}

	if len(peers) == 0 {
		fmt.Println("No paired peers.")
		fmt.Println()
		fmt.Println("Pair with a counterpart using: beacon pair")
		return nil
	}

	fmt.Printf("Paired Peers (%d)\n\n", len(peers))

	for _, p := range peers {
		fmt.Printf("  %s\n", p.Name)
		fmt.Printf("    ID:     %s\n", p.ID)
		fmt.Printf("    Sender: %s\n", p.SenderID)
		fmt.Printf("    Relay:  %s\n", p.RelayServer)
		fmt.Println()
	}

	return nil
}

var peersRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a paired peer",
	Long: `Remove a peer by id.

The counterpart is sent a disconnect notice before the local record is
deleted.

Example:
  beacon peers remove 3c1b...`,
	Args: cobra.ExactArgs(1),
	RunE: runPeersRemove,
}

func runPeersRemove(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	w, err := client.NewWallet(a.clientConfig())
	if err != nil {
		return err
	}
	if err := w.Connect(cmd.Context()); err != nil {
		return err
	}
	defer w.Disconnect()

	if err := w.RemovePeer(context.Background(), args[0]); err != nil {
		return fmt.Errorf("remove peer: %w", err)
	}

	fmt.Printf("Removed peer %s\n", args[0])
	return nil
}
