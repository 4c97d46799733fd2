// Package contracts holds the smart-chain side of the watchtower for
// environments without a real contract client: an in-memory chain that
// keeps escrows and vaults, emits their events and builds claim txs.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/watchtower-go/agreement"
	"github.com/TEENet-io/watchtower-go/btcman/rpc"
	"github.com/TEENet-io/watchtower-go/common"
	"github.com/TEENet-io/watchtower-go/txindex"
)

var (
	ErrNotWithdrawal = errors.New("tx is not a vault withdrawal")
	ErrNoRelayTip    = errors.New("relay has no block yet")
)

// SimSmartChain implements every smart-chain interface the watchtower uses.
type SimSmartChain struct {
	mu sync.Mutex

	escrows   map[string]*SimSwapData
	vaults    map[string]*SimVault
	listeners []agreement.EventListener
	pending   []agreement.ChainEvent
	started   bool
	ctx       context.Context
	relayTip  *agreement.BlockLog

	// failure knobs
	unverifiable  map[string]bool // escrow hashes rejected by TxsClaimWithTxData
	RevertSends   bool
	RevertSecrets bool
	IsCommitedErr error

	// call counters
	ClaimTxBuilds   int
	VaultClaimBuild int
	SecretClaims    int
	VaultReads      int
	Sent            [][]agreement.Tx
}

func NewSimSmartChain() *SimSmartChain {
	return &SimSmartChain{
		escrows:      make(map[string]*SimSwapData),
		vaults:       make(map[string]*SimVault),
		unverifiable: make(map[string]bool),
	}
}

// Event source

func (c *SimSmartChain) RegisterListener(listener agreement.EventListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// Init starts delivery and flushes events emitted before it.
func (c *SimSmartChain) Init(ctx context.Context) error {
	c.mu.Lock()
	c.started = true
	c.ctx = ctx
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(pending) > 0 {
		c.deliver(ctx, pending)
	}
	return nil
}

// Emit hands events to every listener synchronously.
func (c *SimSmartChain) Emit(events ...agreement.ChainEvent) {
	c.mu.Lock()
	if !c.started {
		c.pending = append(c.pending, events...)
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.mu.Unlock()
	c.deliver(ctx, events)
}

func (c *SimSmartChain) deliver(ctx context.Context, events []agreement.ChainEvent) {
	c.mu.Lock()
	listeners := append([]agreement.EventListener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		if !l(ctx, events) {
			logger.WithField("events", len(events)).Warn("listener did not handle events")
		}
	}
}

// Escrow lifecycle

// CreateEscrow commits data and emits its initialize event.
func (c *SimSmartChain) CreateEscrow(data *SimSwapData) {
	c.mu.Lock()
	c.escrows[data.EscrowHash] = data
	c.mu.Unlock()
	c.Emit(&agreement.InitializeEvent{EscrowHash: data.EscrowHash, SwapType: data.Type, SwapData: data})
}

// Refund removes the escrow and emits a void event.
func (c *SimSmartChain) Refund(escrowHash string) {
	c.mu.Lock()
	delete(c.escrows, escrowHash)
	c.mu.Unlock()
	c.Emit(&agreement.VoidEvent{EscrowHash: escrowHash})
}

// Uncommit removes the escrow silently, as if the void event was missed.
func (c *SimSmartChain) Uncommit(escrowHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.escrows, escrowHash)
}

// SetUnverifiable makes claim building for escrowHash fail verification.
func (c *SimSmartChain) SetUnverifiable(escrowHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unverifiable[escrowHash] = true
}

// Vault lifecycle

func (c *SimSmartChain) OpenVault(v *SimVault) {
	c.mu.Lock()
	v.Opened = true
	c.vaults[agreement.VaultIdentifier(v.Owner, v.ID)] = v.clone()
	c.mu.Unlock()
	c.Emit(&agreement.VaultOpenEvent{Owner: v.Owner, VaultID: v.ID})
}

// MoveVault sets the vault utxo as if withdrawals were proven elsewhere.
func (c *SimSmartChain) MoveVault(owner string, id *big.Int, utxo string) {
	c.mu.Lock()
	if v, ok := c.vaults[agreement.VaultIdentifier(owner, id)]; ok {
		v.Utxo = utxo
	}
	c.mu.Unlock()
	c.Emit(&agreement.VaultClaimEvent{Owner: owner, VaultID: id})
}

func (c *SimSmartChain) CloseVault(owner string, id *big.Int) {
	c.mu.Lock()
	if v, ok := c.vaults[agreement.VaultIdentifier(owner, id)]; ok {
		v.Opened = false
	}
	c.mu.Unlock()
	c.Emit(&agreement.VaultCloseEvent{Owner: owner, VaultID: id})
}

// Relay

func (c *SimSmartChain) SetRelayTip(height int64, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relayTip = &agreement.BlockLog{Height: height, Hash: hash}
}

func (c *SimSmartChain) RetrieveLatestKnownBlockLog(ctx context.Context) (*agreement.BlockLog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relayTip == nil {
		return nil, ErrNoRelayTip
	}
	log := *c.relayTip
	return &log, nil
}

// Swap contract

func (c *SimSmartChain) IsCommited(ctx context.Context, data agreement.SwapData) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.IsCommitedErr != nil {
		return false, c.IsCommitedErr
	}
	_, ok := c.escrows[data.GetEscrowHash()]
	return ok, nil
}

func (c *SimSmartChain) TxsClaimWithTxData(
	ctx context.Context,
	signer agreement.Signer,
	data agreement.SwapData,
	tx *rpc.Tx,
	blockHeight int64,
	requiredConfirmations int64,
	vout uint32,
	storedHeader agreement.StoredHeader,
	initAta bool,
	feeRate string,
) ([]agreement.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClaimTxBuilds++

	if c.unverifiable[data.GetEscrowHash()] {
		return nil, &agreement.VerificationError{Reason: "escrow " + data.GetEscrowHash() + " rejected"}
	}
	if int(vout) >= len(tx.Outs) {
		return nil, &agreement.VerificationError{Reason: "vout out of range"}
	}
	txoHash, err := txindex.ToTxoHash(tx.Outs[vout].Value, tx.Outs[vout].ScriptPubKeyHex)
	if err != nil {
		return nil, err
	}
	if txoHash != data.GetTxoHashHint() {
		return nil, &agreement.VerificationError{Reason: "output does not match escrow"}
	}
	if tx.Confirmations < requiredConfirmations {
		return nil, fmt.Errorf("not enough confirmations: %d < %d", tx.Confirmations, requiredConfirmations)
	}
	if storedHeader != nil && storedHeader.GetBlockHeight() != blockHeight {
		return nil, fmt.Errorf("stored header height %d does not match block %d", storedHeader.GetBlockHeight(), blockHeight)
	}

	return []agreement.Tx{&SimClaimTx{
		EscrowHash: data.GetEscrowHash(),
		BtcTxID:    tx.TxID,
		FeeRate:    feeRate,
		InitAta:    initAta,
	}}, nil
}

// GetHashForHtlc is keccak256 of the preimage, hex without prefix.
func (c *SimSmartChain) GetHashForHtlc(secret []byte) string {
	return common.ByteSliceToPureHexStr(crypto.Keccak256(secret))
}

func (c *SimSmartChain) ClaimWithSecret(ctx context.Context, signer agreement.Signer, data agreement.SwapData, secret string, initAta bool, feeRate string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SecretClaims++

	if _, ok := c.escrows[data.GetEscrowHash()]; !ok {
		return "", &agreement.VerificationError{Reason: "escrow not committed"}
	}
	if c.GetHashForHtlc(common.HexStrToByteSlice(secret)) != data.GetClaimHash() {
		return "", &agreement.VerificationError{Reason: "invalid secret"}
	}
	txID := common.ByteSliceToPureHexStr(crypto.Keccak256([]byte(data.GetEscrowHash() + secret)))
	if c.RevertSecrets {
		return "", &agreement.RevertedError{TxID: txID}
	}
	delete(c.escrows, data.GetEscrowHash())
	return txID, nil
}

func (c *SimSmartChain) DeserializeSwapData(raw []byte) (agreement.SwapData, error) {
	return DeserializeSwapData(raw)
}

// SendAndConfirm applies claim txs: escrows are removed, vaults move to
// the output 0 of the last withdrawal.
func (c *SimSmartChain) SendAndConfirm(ctx context.Context, signer agreement.Signer, txs []agreement.Tx) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := ""
	for _, tx := range txs {
		claim, ok := tx.(*SimClaimTx)
		if !ok {
			return "", fmt.Errorf("unexpected tx type %T", tx)
		}
		last = common.ByteSliceToPureHexStr(crypto.Keccak256([]byte(fmt.Sprintf("%+v", *claim))))
		if c.RevertSends {
			return "", &agreement.RevertedError{TxID: last}
		}
	}

	c.Sent = append(c.Sent, txs)
	for _, tx := range txs {
		claim := tx.(*SimClaimTx)
		if claim.EscrowHash != "" {
			delete(c.escrows, claim.EscrowHash)
		}
		if v, ok := c.vaults[claim.VaultKey]; ok && len(claim.Withdrawals) > 0 {
			v.Utxo = claim.Withdrawals[len(claim.Withdrawals)-1] + ":0"
		}
	}
	return last, nil
}

// Vault contract

func (c *SimSmartChain) GetVaultData(ctx context.Context, owner string, vaultID *big.Int) (agreement.SpvVaultData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.VaultReads++
	v, ok := c.vaults[agreement.VaultIdentifier(owner, vaultID)]
	if !ok {
		return nil, nil
	}
	return v.clone(), nil
}

func (c *SimSmartChain) GetAllVaults(ctx context.Context) ([]agreement.SpvVaultData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]agreement.SpvVaultData, 0, len(c.vaults))
	for _, v := range c.vaults {
		if v.Opened {
			out = append(out, v.clone())
		}
	}
	return out, nil
}

func (c *SimSmartChain) GetWithdrawalData(ctx context.Context, tx *rpc.Tx) (agreement.SpvVaultWithdrawalData, error) {
	if len(tx.Ins) == 0 || len(tx.Outs) == 0 {
		return nil, ErrNotWithdrawal
	}
	var amount int64
	for _, out := range tx.Outs[1:] {
		amount += out.Value
	}
	return &SimWithdrawal{
		TxID:      tx.TxID,
		SpentUtxo: txindex.UtxoKey(tx.Ins[0].TxID, tx.Ins[0].Vout),
		Amount:    amount,
	}, nil
}

func (c *SimSmartChain) TxsClaim(ctx context.Context, signer agreement.Signer, vault agreement.SpvVaultData, withdrawals []agreement.WithdrawalTxData, initAta bool, feeRate string) ([]agreement.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.VaultClaimBuild++

	list := make([]agreement.SpvVaultWithdrawalData, 0, len(withdrawals))
	ids := make([]string, 0, len(withdrawals))
	for _, w := range withdrawals {
		list = append(list, w.Withdrawal)
		ids = append(ids, w.Withdrawal.GetTxID())
	}
	if err := vault.CalculateStateAfter(list); err != nil {
		return nil, &agreement.VerificationError{Reason: err.Error()}
	}
	return []agreement.Tx{&SimClaimTx{
		VaultKey:    agreement.VaultIdentifier(vault.GetOwner(), vault.GetVaultID()),
		Withdrawals: ids,
		FeeRate:     feeRate,
		InitAta:     initAta,
	}}, nil
}

func (c *SimSmartChain) DeserializeVaultData(raw []byte) (agreement.SpvVaultData, error) {
	return DeserializeVaultData(raw)
}

// VaultReadCount returns the number of GetVaultData calls.
func (c *SimSmartChain) VaultReadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.VaultReads
}

// SentCount returns the number of successful SendAndConfirm calls.
func (c *SimSmartChain) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sent)
}

// Counters returns the builder call counters under the lock.
func (c *SimSmartChain) Counters() (claimTxBuilds, vaultClaimBuilds, secretClaims int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ClaimTxBuilds, c.VaultClaimBuild, c.SecretClaims
}
