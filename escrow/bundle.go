package escrow

import (
	"context"
	"sync"

	"github.com/TEENet-io/watchtower-go/agreement"
)

// ClaimData describes the bitcoin output a claim proves.
type ClaimData struct {
	EscrowHash  string
	SwapData    agreement.SwapData
	TxID        string
	Vout        uint32
	BlockHeight int64
	MaturedAt   int64 // first tip height with enough confirmations
}

// ClaimBundle holds prebuilt claim txs for one escrow and the claim lock
// taken while building them.
type ClaimBundle struct {
	Data ClaimData

	txs      []agreement.Tx
	contract agreement.SwapContract

	releaseOnce sync.Once
	release     func()
}

var _ agreement.ClaimBundle = (*ClaimBundle)(nil)

// GetTxs returns nil if the output is not yet mature at targetHeight or,
// with checkClaimable, if the escrow is no longer committed.
func (b *ClaimBundle) GetTxs(ctx context.Context, targetHeight int64, checkClaimable bool) ([]agreement.Tx, error) {
	if targetHeight > 0 && b.Data.MaturedAt > targetHeight {
		return nil, nil
	}
	if checkClaimable {
		committed, err := b.contract.IsCommited(ctx, b.Data.SwapData)
		if err != nil {
			return nil, err
		}
		if !committed {
			return nil, nil
		}
	}
	return b.txs, nil
}

func (b *ClaimBundle) Release() {
	b.releaseOnce.Do(func() {
		if b.release != nil {
			b.release()
		}
	})
}
