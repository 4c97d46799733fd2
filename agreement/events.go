package agreement

import (
	"context"
	"fmt"
	"math/big"
)

// ChainEvent is one of the events below. Consumers type-switch on it.
type ChainEvent interface {
	isChainEvent()
}

// InitializeEvent: an escrow was created.
type InitializeEvent struct {
	EscrowHash string
	SwapType   SwapType
	SwapData   SwapData
}

// VoidEvent: an escrow was claimed or refunded.
type VoidEvent struct {
	EscrowHash string
	Claimed    bool
}

type VaultOpenEvent struct {
	Owner   string
	VaultID *big.Int
}

// VaultClaimEvent: a withdrawal was proven, the vault moved to a new utxo.
type VaultClaimEvent struct {
	Owner   string
	VaultID *big.Int
}

type VaultCloseEvent struct {
	Owner   string
	VaultID *big.Int
}

func (*InitializeEvent) isChainEvent() {}
func (*VoidEvent) isChainEvent()       {}
func (*VaultOpenEvent) isChainEvent()  {}
func (*VaultClaimEvent) isChainEvent() {}
func (*VaultCloseEvent) isChainEvent() {}

func (ev *InitializeEvent) String() string {
	return fmt.Sprintf("Initialize{escrowHash=%s, type=%s}", ev.EscrowHash, ev.SwapType)
}

func (ev *VoidEvent) String() string {
	return fmt.Sprintf("Void{escrowHash=%s, claimed=%v}", ev.EscrowHash, ev.Claimed)
}

// EventListener receives batches of chain events. The bool result is
// reported back to the event source as "handled".
type EventListener func(ctx context.Context, events []ChainEvent) bool

// Message is a messenger payload. SwapClaimWitnessMessage is the only kind today.
type Message interface {
	isMessage()
}

// SwapClaimWitnessMessage carries a candidate hashlock preimage for a swap.
type SwapClaimWitnessMessage struct {
	SwapData SwapData
	Witness  string // hex
}

func (*SwapClaimWitnessMessage) isMessage() {}

type MessageHandler func(msg Message)
