package agreement

import (
	"math/big"
)

// SwapType tells which claim path handles an escrow.
type SwapType int

const (
	SwapTypeChain SwapType = iota // claimed with a bitcoin output proof
	SwapTypeHTLC                  // claimed with a hashlock preimage
	SwapTypeChainNonced
	SwapTypeSpvVault
)

func (t SwapType) String() string {
	switch t {
	case SwapTypeChain:
		return "CHAIN"
	case SwapTypeHTLC:
		return "HTLC"
	case SwapTypeChainNonced:
		return "CHAIN_NONCED"
	case SwapTypeSpvVault:
		return "SPV_VAULT"
	}
	return "UNKNOWN"
}

// SwapData is the on-chain escrow record, opaque except for these accessors.
type SwapData interface {
	GetEscrowHash() string
	GetClaimHash() string
	GetType() SwapType
	// GetTxoHashHint returns the hex fingerprint of the expected bitcoin output, "" if absent.
	GetTxoHashHint() string
	// GetConfirmationsHint returns the required confirmations, 0 if absent.
	GetConfirmationsHint() int64
	HasSuccessAction() bool
	Serialize() ([]byte, error)
}

// SwapDataDeserializer restores SwapData from Serialize output.
type SwapDataDeserializer func(raw []byte) (SwapData, error)

// SpvVaultData is one vault's on-chain state.
type SpvVaultData interface {
	GetOwner() string
	GetVaultID() *big.Int
	// GetUtxo returns "txid:vout" of the output currently holding the vault.
	GetUtxo() string
	IsOpened() bool
	GetConfirmations() int64
	// CalculateStateAfter validates applying withdrawals in order on top of the current state.
	CalculateStateAfter(withdrawals []SpvVaultWithdrawalData) error
	Serialize() ([]byte, error)
}

// SpvVaultDataDeserializer restores SpvVaultData from Serialize output.
type SpvVaultDataDeserializer func(raw []byte) (SpvVaultData, error)

// SpvVaultWithdrawalData is a parsed withdrawal bitcoin tx.
type SpvVaultWithdrawalData interface {
	GetTxID() string
	// GetSpentVaultUtxo returns the vault utxo the tx consumes.
	GetSpentVaultUtxo() string
}

// WithdrawalTxData pairs a parsed withdrawal with the proof material for its block.
type WithdrawalTxData struct {
	Withdrawal   SpvVaultWithdrawalData
	BlockHeight  int64
	StoredHeader StoredHeader // may be nil
}

// StoredHeader is a bitcoin header already committed to the relay contract.
type StoredHeader interface {
	GetBlockHeight() int64
}

// Tx is a smart-chain transaction ready to be signed and sent.
type Tx interface{}

// BlockLog is the newest bitcoin header known to the relay.
type BlockLog struct {
	Height int64
	Hash   string
}

// ClaimDecision is the answer of a claim policy callback.
type ClaimDecision struct {
	Proceed bool
	FeeRate string // chain specific, "" for default
	InitAta bool
}

var Decline = ClaimDecision{}

func Proceed(feeRate string, initAta bool) ClaimDecision {
	return ClaimDecision{Proceed: true, FeeRate: feeRate, InitAta: initAta}
}

// VaultIdentifier is the storage key of a vault: "owner_vaultId".
func VaultIdentifier(owner string, vaultID *big.Int) string {
	return owner + "_" + vaultID.String()
}
