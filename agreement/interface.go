package agreement

import (
	"context"
	"math/big"

	"github.com/TEENet-io/watchtower-go/btcman/rpc"
)

// Signer identifies the watchtower account on the smart chain.
type Signer interface {
	GetAddress() string
}

// ChainEvents delivers smart-chain events to registered listeners.
type ChainEvents interface {
	RegisterListener(listener EventListener)
	// Init starts delivery. Listeners must be registered before.
	Init(ctx context.Context) error
}

// SwapContract is the escrow side of the smart-chain client.
type SwapContract interface {
	IsCommited(ctx context.Context, data SwapData) (bool, error)
	// TxsClaimWithTxData builds claim txs proving the bitcoin output.
	// A *VerificationError means the escrow can never be claimed with this tx.
	TxsClaimWithTxData(
		ctx context.Context,
		signer Signer,
		data SwapData,
		tx *rpc.Tx,
		blockHeight int64,
		requiredConfirmations int64,
		vout uint32,
		storedHeader StoredHeader,
		initAta bool,
		feeRate string,
	) ([]Tx, error)
	// ClaimWithSecret claims a hashlock escrow and waits for the result.
	// A *RevertedError means the claim tx was included but failed.
	ClaimWithSecret(ctx context.Context, signer Signer, data SwapData, secret string, initAta bool, feeRate string) (string, error)
	// GetHashForHtlc maps a preimage to the claim hash format used by SwapData.GetClaimHash.
	GetHashForHtlc(secret []byte) string
	DeserializeSwapData(raw []byte) (SwapData, error)
}

// TxSender submits prebuilt smart-chain txs.
type TxSender interface {
	// SendAndConfirm returns the id of the last tx. A *RevertedError means
	// the txs were included but failed.
	SendAndConfirm(ctx context.Context, signer Signer, txs []Tx) (string, error)
}

// SpvVaultContract is the vault side of the smart-chain client.
type SpvVaultContract interface {
	// GetVaultData returns nil, nil when the vault does not exist.
	GetVaultData(ctx context.Context, owner string, vaultID *big.Int) (SpvVaultData, error)
	GetAllVaults(ctx context.Context) ([]SpvVaultData, error)
	// GetWithdrawalData parses a bitcoin tx as a vault withdrawal.
	GetWithdrawalData(ctx context.Context, tx *rpc.Tx) (SpvVaultWithdrawalData, error)
	TxsClaim(ctx context.Context, signer Signer, vault SpvVaultData, withdrawals []WithdrawalTxData, initAta bool, feeRate string) ([]Tx, error)
	DeserializeVaultData(raw []byte) (SpvVaultData, error)
}

// BtcRelay is the on-chain bitcoin light client.
type BtcRelay interface {
	RetrieveLatestKnownBlockLog(ctx context.Context) (*BlockLog, error)
}

// Messenger is the off-chain broadcast channel between swap participants.
type Messenger interface {
	Init(ctx context.Context) error
	Subscribe(handler MessageHandler) error
}

// ClaimBundle is a set of prebuilt claim txs revalidated on release.
type ClaimBundle interface {
	// GetTxs returns nil when the claim should not be sent at targetHeight
	// (<= 0 skips the maturity check) or, with checkClaimable, when the
	// on-chain state has moved on since the bundle was built.
	GetTxs(ctx context.Context, targetHeight int64, checkClaimable bool) ([]Tx, error)
	// Release frees the claim lock after a successful submission.
	Release()
}
