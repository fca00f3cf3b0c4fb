package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"walletbeacon.dev/go/beacon/internal/blockchain"
	"walletbeacon.dev/go/beacon/internal/client"
	"walletbeacon.dev/go/beacon/internal/events"
	"walletbeacon.dev/go/beacon/internal/peerstore"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for requests from paired dApps",
	Long: `Connect to the relay and print inbound requests from paired dApps
until interrupted. Useful for watching a session or driving a wallet
implementation that polls this process.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
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

	w.OnRequest(func(msg blockchain.Message, peer peerstore.Peer) {
		fmt.Printf("request %s from %s: type=%s blockchain=%s\n",
			msg.ID, peer.Name, msg.Type, msg.BlockchainIdentifier)
	})

	sub := a.bus.Subscribe(16)
	defer sub.Unsubscribe()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	fmt.Printf("Listening as %s (%s). Press Ctrl-C to stop.\n", a.cfg.App.Name, w.SenderID())

	for {
		select {
		case <-sig:
			fmt.Println("Shutting down.")
			return nil
		case ev := <-sub.C:
			switch ev.Kind {
			case events.TransportError:
				fmt.Printf("transport degraded: %v\n", ev.Err)
			case events.TransportRecovery:
				fmt.Println("transport recovered")
			case events.PeerRemoved:
				fmt.Printf("peer %s disconnected\n", ev.PeerID)
			}
		}
	}
}
