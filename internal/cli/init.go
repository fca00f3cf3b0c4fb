package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"walletbeacon.dev/go/beacon/internal/config"
	"walletbeacon.dev/go/beacon/internal/crypto"
)

var (
	initName string
	initRole string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initName, "name", "", "display name shown to peers")
	initCmd.Flags().StringVar(&initRole, "role", "wallet", "client role: dapp or wallet")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an identity and default configuration",
	Long: `Create a new client identity and write the default configuration.

The identity keypair is generated locally and its seed is stored in the
system keychain when available, or in an identity file otherwise. A
recovery mnemonic is printed once; write it down, it is not stored.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return err
	}

	if paths.IdentityExists() {
		return fmt.Errorf("identity already exists at %s", paths.IdentityFile)
	}

	kp, err := crypto.NewKeyPair()
	if err != nil {
		return err
	}
	if err := saveIdentity(paths, kp); err != nil {
		return fmt.Errorf("store identity: %w", err)
	}

	cfg := config.Default()
	if initName != "" {
		cfg.App.Name = initName
	}
	cfg.App.Role = initRole
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return err
	}

	mnemonic, err := kp.ExportMnemonic()
	if err != nil {
		return fmt.Errorf("export recovery mnemonic: %w", err)
	}

	fmt.Printf("Identity created.\n\n")
	fmt.Printf("  Public key: %s\n", kp.PublicKeyHex())
	fmt.Printf("  Config:     %s\n\n", paths.ConfigFile)
	fmt.Println("Recovery mnemonic (write this down, it will not be shown again):")
	fmt.Printf("\n  %s\n\n", mnemonic)

	return nil
}
