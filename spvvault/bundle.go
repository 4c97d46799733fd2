package spvvault

import (
	"context"
	"sync"

	"github.com/TEENet-io/watchtower-go/agreement"
)

// ClaimData lists the withdrawals a vault claim proves, oldest first.
type ClaimData struct {
	VaultKey      string
	Owner         string
	Confirmations int64
	Withdrawals   []agreement.WithdrawalTxData
}

// MaturedAt is the tip height at which every withdrawal is claimable.
func (d *ClaimData) MaturedAt() int64 {
	if len(d.Withdrawals) == 0 {
		return 0
	}
	return d.Withdrawals[len(d.Withdrawals)-1].BlockHeight + d.Confirmations - 1
}

// ClaimBundle builds the vault claim txs when asked, trimmed to what is
// still claimable at that point.
type ClaimBundle struct {
	Data ClaimData

	vault    agreement.SpvVaultData
	contract agreement.SpvVaultContract
	signer   agreement.Signer
	decision agreement.ClaimDecision

	releaseOnce sync.Once
	release     func()
}

var _ agreement.ClaimBundle = (*ClaimBundle)(nil)

// GetTxs keeps the withdrawals mature at targetHeight. With checkClaimable
// the vault is re-read and withdrawals already proven are dropped.
func (b *ClaimBundle) GetTxs(ctx context.Context, targetHeight int64, checkClaimable bool) ([]agreement.Tx, error) {
	withdrawals := b.Data.Withdrawals
	if targetHeight > 0 {
		n := 0
		for _, w := range withdrawals {
			if w.BlockHeight+b.Data.Confirmations-1 > targetHeight {
				break
			}
			n++
		}
		withdrawals = withdrawals[:n]
	}

	vault := b.vault
	if checkClaimable {
		fresh, err := b.contract.GetVaultData(ctx, vault.GetOwner(), vault.GetVaultID())
		if err != nil {
			return nil, err
		}
		if fresh == nil || !fresh.IsOpened() {
			return nil, nil
		}
		start := -1
		for i, w := range withdrawals {
			if w.Withdrawal.GetSpentVaultUtxo() == fresh.GetUtxo() {
				start = i
				break
			}
		}
		if start == -1 {
			return nil, nil
		}
		withdrawals = withdrawals[start:]
		vault = fresh
	}

	if len(withdrawals) == 0 {
		return nil, nil
	}
	return b.contract.TxsClaim(ctx, b.signer, vault, withdrawals, b.decision.InitAta, b.decision.FeeRate)
}

func (b *ClaimBundle) Release() {
	b.releaseOnce.Do(func() {
		if b.release != nil {
			b.release()
		}
	})
}
