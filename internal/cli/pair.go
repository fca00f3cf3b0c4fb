package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"walletbeacon.dev/go/beacon/internal/client"
	"walletbeacon.dev/go/beacon/internal/pairing"
)

var pairNoQR bool

func init() {
	rootCmd.AddCommand(pairCmd)
	pairCmd.Flags().BoolVar(&pairNoQR, "no-qr", false, "print the raw pairing payload instead of a QR code")
}

var pairCmd = &cobra.Command{
	Use:   "pair [payload]",
	Short: "Pair with a counterpart",
	Long: `Pair with a counterpart over the relay.

As a dApp, run without arguments: a pairing QR code is printed and the
command waits for a wallet to scan it and answer.

As a wallet, pass the payload obtained from the dApp (scanned QR content
or copied string):

  beacon pair 3NVvd1eq...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPair,
}

func runPair(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	if len(args) == 1 {
		w, err := client.NewWallet(a.clientConfig())
		if err != nil {
			return err
		}
		if err := w.Connect(ctx); err != nil {
			return err
		}
		defer w.Disconnect()

		peer, err := w.Pair(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Paired with %s (%s)\n", peer.Name, peer.SenderID)
		return nil
	}

	d, err := client.NewDApp(a.clientConfig())
	if err != nil {
		return err
	}
	if err := d.Connect(ctx); err != nil {
		return err
	}
	defer d.Disconnect()

	req, err := d.NewPairingRequest()
	if err != nil {
		return err
	}

	if pairNoQR {
		payload, err := pairing.PairingRequestPayload(req)
		if err != nil {
			return err
		}
		fmt.Println(payload)
	} else {
		qr, err := d.PairingQR(req)
		if err != nil {
			return err
		}
		fmt.Println(qr)
	}
	fmt.Println("Waiting for a wallet to pair...")

	peer, err := d.Pair(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Paired with %s (%s)\n", peer.Name, peer.SenderID)
	return nil
}
