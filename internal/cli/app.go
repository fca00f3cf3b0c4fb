package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"walletbeacon.dev/go/beacon/internal/blockchain"
	"walletbeacon.dev/go/beacon/internal/blockchain/deku"
	"walletbeacon.dev/go/beacon/internal/blockchain/substrate"
	"walletbeacon.dev/go/beacon/internal/blockchain/tezos"
	"walletbeacon.dev/go/beacon/internal/client"
	"walletbeacon.dev/go/beacon/internal/config"
	"walletbeacon.dev/go/beacon/internal/crypto"
	"walletbeacon.dev/go/beacon/internal/events"
	"walletbeacon.dev/go/beacon/internal/keychain"
	"walletbeacon.dev/go/beacon/internal/pairing"
	"walletbeacon.dev/go/beacon/internal/peerstore"
	"walletbeacon.dev/go/beacon/internal/storage"
	"walletbeacon.dev/go/beacon/internal/transport/relayroom"
)

// app bundles the wired collaborators behind one command invocation.
type app struct {
	cfg       *config.Config
	paths     *config.Paths
	keyPair   *crypto.KeyPair
	store     storage.Store
	peers     *peerstore.Store
	metadata  *peerstore.MetadataStore
	bus       *events.Bus
	registry  *blockchain.Registry
	transport *relayroom.Transport
	engine    *pairing.Engine
}

// buildApp wires storage, identity, transport and pairing from the
// configuration. The identity must already exist; run `beacon init`
// first.
func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	paths, err := config.GetPaths()
	if err != nil {
		return nil, fmt.Errorf("get paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	kp, err := loadIdentity(paths)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewFileStore(paths.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open data store: %w", err)
	}

	role := peerstore.Role(cfg.App.Role)
	peers := peerstore.New(store, peerstore.KindRelayRoom, role)
	metadata := peerstore.NewMetadataStore(store, role)
	bus := events.NewBus()

	registry := blockchain.NewRegistry()
	for _, id := range cfg.Blockchain.Enabled {
		switch id {
		case tezos.Identifier:
			registry.Register(tezos.NewWithCatalog(cfg.Blockchain.CatalogURL))
		case deku.Identifier:
			registry.Register(deku.New())
		case substrate.Identifier:
			registry.Register(substrate.New())
		default:
			return nil, fmt.Errorf("unknown blockchain in config: %s", id)
		}
	}

	tr := relayroom.New(relayroom.Config{
		Name:    cfg.App.Name,
		Nodes:   cfg.Relay.RoomNodes,
		KeyPair: kp,
		Storage: store,
		Bus:     bus,
	})

	engine := pairing.NewEngine(pairing.Config{
		Name:        cfg.App.Name,
		Icon:        cfg.App.Icon,
		AppURL:      cfg.App.AppURL,
		KeyPair:     kp,
		Peers:       peers,
		Metadata:    metadata,
		Bus:         bus,
		Timeout:     cfg.PairingTimeout(),
		RelayServer: tr.RelayServer,
	}, tr)

	return &app{
		cfg:       cfg,
		paths:     paths,
		keyPair:   kp,
		store:     store,
		peers:     peers,
		metadata:  metadata,
		bus:       bus,
		registry:  registry,
		transport: tr,
		engine:    engine,
	}, nil
}

func (a *app) clientConfig() client.Config {
	return client.Config{
		Name:           a.cfg.App.Name,
		Icon:           a.cfg.App.Icon,
		AppURL:         a.cfg.App.AppURL,
		KeyPair:        a.keyPair,
		Peers:          a.peers,
		Metadata:       a.metadata,
		Bus:            a.bus,
		Registry:       a.registry,
		Transport:      a.transport,
		Pairing:        a.engine,
		RequestTimeout: a.cfg.RequestTimeout(),
	}
}

// loadIdentity reads the identity seed, preferring the system keychain
// and falling back to the identity file.
func loadIdentity(paths *config.Paths) (*crypto.KeyPair, error) {
	if keychain.IsAvailable() {
		seedHex, err := keychain.Get()
		if err == nil {
			entropy, err := hex.DecodeString(seedHex)
			if err != nil {
				return nil, fmt.Errorf("corrupt keychain seed: %w", err)
			}
			return crypto.KeyPairFromEntropy(entropy)
		}
		if !errors.Is(err, keychain.ErrNotFound) {
			return nil, err
		}
	}

	data, err := os.ReadFile(paths.IdentityFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no identity found, run: beacon init")
		}
		return nil, fmt.Errorf("read identity: %w", err)
	}
	entropy, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("corrupt identity file: %w", err)
	}
	return crypto.KeyPairFromEntropy(entropy)
}

// saveIdentity persists a fresh identity seed, preferring the system
// keychain.
func saveIdentity(paths *config.Paths, kp *crypto.KeyPair) error {
	seedHex := hex.EncodeToString(kp.Entropy())

	if keychain.IsAvailable() {
		if err := keychain.Store(seedHex); err == nil {
			return nil
		}
	}
	return os.WriteFile(paths.IdentityFile, []byte(seedHex), 0600)
}
