package tezos

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"walletbeacon.dev/go/beacon/internal/blockchain"
	"walletbeacon.dev/go/beacon/internal/crypto"
)

func TestAddressFromPublicKeyHex(t *testing.T) {
	kp, err := crypto.NewKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	addr, err := AddressFromPublicKey(kp.PublicKeyHex())
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}
	if !strings.HasPrefix(addr, "tz1") {
		t.Errorf("address %q does not carry the tz1 prefix", addr)
	}
	if len(addr) != 36 {
		t.Errorf("address length = %d, want 36", len(addr))
	}

	// Deterministic for the same key.
	again, err := AddressFromPublicKey(kp.PublicKeyHex())
	if err != nil {
		t.Fatalf("derive address again: %v", err)
	}
	if again != addr {
		t.Error("address derivation is not deterministic")
	}
}

func TestAddressFromPublicKeyRejectsBadInput(t *testing.T) {
	for _, input := range []string{"", "zz", "edpkshort", strings.Repeat("g", 64)} {
		if _, err := AddressFromPublicKey(input); err == nil {
			t.Errorf("input %q: expected error", input)
		}
	}
}

func TestValidateRequest(t *testing.T) {
	a := New()
	ctx := context.Background()

	valid := blockchain.Message{
		ID:                   "m1",
		Type:                 "operation_request",
		BlockchainIdentifier: Identifier,
		BlockchainData:       json.RawMessage(`{"scopes":["sign"]}`),
	}
	if err := a.ValidateRequest(ctx, valid); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	// Missing optional fields are fine.
	minimal := blockchain.Message{ID: "m2", Type: "operation_request"}
	if err := a.ValidateRequest(ctx, minimal); err != nil {
		t.Errorf("minimal request rejected: %v", err)
	}

	// Wrong identifier is a typed error, never coerced.
	wrong := valid
	wrong.BlockchainIdentifier = "substrate"
	var vErr *blockchain.ValidationError
	if err := a.ValidateRequest(ctx, wrong); !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestAccountInfosFromExplicitAccounts(t *testing.T) {
	a := New()

	msg := blockchain.Message{
		ID:   "m1",
		Type: "permission_response",
		BlockchainData: json.RawMessage(`{
			"accounts": [
				{"accountId": "acc-1", "address": "tz1abc", "publicKey": "00"}
			]
		}`),
	}

	infos, err := a.AccountInfosFromPermissionResponse(msg)
	if err != nil {
		t.Fatalf("extract accounts: %v", err)
	}
	if len(infos) != 1 || infos[0].Address != "tz1abc" {
		t.Errorf("infos = %+v", infos)
	}
}

func TestAccountInfosFromLegacyPublicKey(t *testing.T) {
	kp, err := crypto.NewKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	a := New()

	msg := blockchain.Message{
		ID:             "m1",
		Type:           "permission_response",
		BlockchainData: json.RawMessage(`{"publicKey": "` + kp.PublicKeyHex() + `"}`),
	}

	infos, err := a.AccountInfosFromPermissionResponse(msg)
	if err != nil {
		t.Fatalf("extract accounts: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected one derived account, got %d", len(infos))
	}
	if !strings.HasPrefix(infos[0].Address, "tz1") {
		t.Errorf("derived address %q is not tz1", infos[0].Address)
	}
}

func TestAccountInfosEmptyResponseFails(t *testing.T) {
	a := New()

	msg := blockchain.Message{ID: "m1", Type: "permission_response"}
	var hErr *blockchain.HandlingError
	if _, err := a.AccountInfosFromPermissionResponse(msg); !errors.As(err, &hErr) {
		t.Errorf("expected HandlingError, got %v", err)
	}
}

func TestWalletListsBundled(t *testing.T) {
	a := New()

	lists, err := a.WalletLists(context.Background())
	if err != nil {
		t.Fatalf("wallet lists: %v", err)
	}
	if len(lists.Extension) == 0 {
		t.Error("bundled extension list is empty")
	}
}
