package blockchain

import (
	"context"
	"errors"
	"testing"
)

type stubAdapter struct {
	id string
}

func (s *stubAdapter) Identifier() string                                 { return s.id }
func (s *stubAdapter) ValidateRequest(context.Context, Message) error     { return nil }
func (s *stubAdapter) HandleResponse(context.Context, Message) error      { return nil }
func (s *stubAdapter) AccountInfosFromPermissionResponse(Message) ([]AccountInfo, error) {
	return nil, nil
}
func (s *stubAdapter) WalletLists(context.Context) (WalletLists, error) { return WalletLists{}, nil }

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{id: "tezos"})

	adapter, err := r.Lookup("tezos")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if adapter.Identifier() != "tezos" {
		t.Errorf("identifier = %q", adapter.Identifier())
	}
}

func TestRegistryFailsClosed(t *testing.T) {
	r := NewRegistry()

	_, err := r.Lookup("missing")
	var unknown *UnknownBlockchainError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownBlockchainError, got %v", err)
	}
}

func TestRegistryLastWriteWins(t *testing.T) {
	r := NewRegistry()

	first := &stubAdapter{id: "tezos"}
	second := &stubAdapter{id: "tezos"}
	r.Register(first)
	r.Register(second)

	adapter, err := r.Lookup("tezos")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if adapter != Blockchain(second) {
		t.Error("expected the later registration to win")
	}

	if ids := r.Identifiers(); len(ids) != 1 {
		t.Errorf("identifiers = %v, want one entry", ids)
	}
}
