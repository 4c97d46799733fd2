// Package escrow watches escrows that pay out against a bitcoin output and
// builds their claim transactions once the output has enough confirmations.
package escrow

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/watchtower-go/agreement"
	"github.com/TEENet-io/watchtower-go/btcman/rpc"
	"github.com/TEENet-io/watchtower-go/storage"
	"github.com/TEENet-io/watchtower-go/txindex"
)

const DEFAULT_LOCK_TIMEOUT = 120 * time.Second

// TxoIndex is the part of the tx index used here.
type TxoIndex interface {
	GetTxoObject(txoHash string) (txindex.TxoEntry, bool)
	TipHeight() int64
}

// ClaimPolicy decides whether and how to claim a matured swap.
type ClaimPolicy func(ctx context.Context, swap *SavedSwap) (agreement.ClaimDecision, error)

// ClaimSink receives bundles produced outside a sync, e.g. for a swap
// whose output had already matured when its escrow was created.
type ClaimSink func(escrowHash string, bundle *ClaimBundle)

type Config struct {
	Index       TxoIndex
	Store       *storage.Store[*SavedSwap]
	Events      agreement.ChainEvents
	Contract    agreement.SwapContract
	BtcRpc      rpc.BitcoinRpc
	Signer      agreement.Signer
	ShouldClaim ClaimPolicy   // nil claims everything with default fees
	OnClaimable ClaimSink     // nil drops event-triggered bundles
	LockTimeout time.Duration // 0 for default
	Logger      logger.FieldLogger
}

// EscrowSwaps tracks CHAIN-type escrows by output fingerprint.
type EscrowSwaps struct {
	idx         TxoIndex
	store       *storage.Store[*SavedSwap]
	events      agreement.ChainEvents
	contract    agreement.SwapContract
	btcRpc      rpc.BitcoinRpc
	signer      agreement.Signer
	shouldClaim ClaimPolicy
	onClaimable ClaimSink
	lockTimeout time.Duration
	log         logger.FieldLogger

	mu        sync.Mutex
	txoHashes map[string][]*SavedSwap // fingerprint -> swaps watching it
}

func New(cfg *Config) *EscrowSwaps {
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = DEFAULT_LOCK_TIMEOUT
	}
	log := cfg.Logger
	if log == nil {
		log = logger.WithField("module", "escrow")
	}
	return &EscrowSwaps{
		idx:         cfg.Index,
		store:       cfg.Store,
		events:      cfg.Events,
		contract:    cfg.Contract,
		btcRpc:      cfg.BtcRpc,
		signer:      cfg.Signer,
		shouldClaim: cfg.ShouldClaim,
		onClaimable: cfg.OnClaimable,
		lockTimeout: lockTimeout,
		log:         log,
		txoHashes:   make(map[string][]*SavedSwap),
	}
}

// Init loads persisted swaps and subscribes to chain events.
func (e *EscrowSwaps) Init(ctx context.Context) error {
	loaded, err := e.store.Load(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, swap := range loaded {
		e.indexSwap(swap)
	}
	e.mu.Unlock()

	e.log.WithField("swaps", len(loaded)).Info("loaded escrow swaps")
	e.events.RegisterListener(e.HandleEvents)
	return nil
}

// must hold e.mu
func (e *EscrowSwaps) indexSwap(swap *SavedSwap) {
	if swap.TxoHash == "" {
		return
	}
	e.txoHashes[swap.TxoHash] = append(e.txoHashes[swap.TxoHash], swap)
}

// must hold e.mu
func (e *EscrowSwaps) unindexSwap(swap *SavedSwap) {
	list := e.txoHashes[swap.TxoHash]
	for i, s := range list {
		if s == swap {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(e.txoHashes, swap.TxoHash)
	} else {
		e.txoHashes[swap.TxoHash] = list
	}
}

// HandleEvents reacts to initialize and void events. It is registered as
// the chain event listener by Init.
func (e *EscrowSwaps) HandleEvents(ctx context.Context, events []agreement.ChainEvent) bool {
	for _, event := range events {
		switch ev := event.(type) {
		case *agreement.InitializeEvent:
			e.handleInitialize(ctx, ev)
		case *agreement.VoidEvent:
			removed, err := e.removeByEscrowHash(ctx, ev.EscrowHash)
			if err != nil {
				e.log.WithError(err).WithField("escrowHash", ev.EscrowHash).Error("failed to remove swap")
				continue
			}
			if removed {
				e.log.WithField("escrowHash", ev.EscrowHash).Info("removed swap from watchlist")
			}
		}
	}
	return true
}

func (e *EscrowSwaps) handleInitialize(ctx context.Context, ev *agreement.InitializeEvent) {
	if ev.SwapType != agreement.SwapTypeChain {
		return
	}
	data := ev.SwapData
	if data.HasSuccessAction() {
		return
	}
	txoHash := data.GetTxoHashHint()
	confirmations := data.GetConfirmationsHint()
	if txoHash == "" || confirmations <= 0 {
		e.log.WithField("escrowHash", ev.EscrowHash).Warn("skipping escrow without txoHash and confirmations hint")
		return
	}

	swap := NewSavedSwap(txoHash, data)
	saved, err := e.save(ctx, swap)
	if err != nil {
		e.log.WithError(err).WithField("escrowHash", ev.EscrowHash).Error("failed to save swap")
		return
	}
	if !saved {
		return
	}
	e.log.WithFields(logger.Fields{
		"escrowHash":    ev.EscrowHash,
		"txoHash":       txoHash,
		"confirmations": confirmations,
	}).Info("added swap to watchlist")

	// the output may already be indexed and matured
	entry, ok := e.idx.GetTxoObject(txoHash)
	if !ok {
		return
	}
	bundle, err := e.tryGetClaimTxs(ctx, swap, entry, e.idx.TipHeight(), nil)
	if err != nil {
		e.log.WithError(err).WithField("escrowHash", ev.EscrowHash).Error("failed to build claim txs")
		return
	}
	if bundle == nil {
		return
	}
	if e.onClaimable == nil {
		bundle.Release()
		return
	}
	e.onClaimable(ev.EscrowHash, bundle)
}

// save returns false if the escrow is already tracked.
func (e *EscrowSwaps) save(ctx context.Context, swap *SavedSwap) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.store.Get(swap.EscrowHash()); ok {
		return false, nil
	}
	if err := e.store.Save(ctx, swap.EscrowHash(), swap); err != nil {
		return false, err
	}
	e.indexSwap(swap)
	return true, nil
}

func (e *EscrowSwaps) removeByEscrowHash(ctx context.Context, escrowHash string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	swap, ok := e.store.Get(escrowHash)
	if !ok {
		return false, nil
	}
	if _, err := e.store.Remove(ctx, escrowHash); err != nil {
		return false, err
	}
	e.unindexSwap(swap)
	return true, nil
}

// MarkEscrowClaimReverted records that a claim of the escrow reverted on
// chain. The swap is never attempted again.
func (e *EscrowSwaps) MarkEscrowClaimReverted(ctx context.Context, escrowHash string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	swap, ok := e.store.Get(escrowHash)
	if !ok {
		return false, nil
	}
	swap.SetClaimAttemptFailed(true)
	if err := e.store.Save(ctx, escrowHash, swap); err != nil {
		swap.SetClaimAttemptFailed(false)
		return false, err
	}
	e.log.WithField("escrowHash", escrowHash).Warn("claim reverted, swap will not be retried")
	return true, nil
}

func (e *EscrowSwaps) swapsFor(txoHash string) []*SavedSwap {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*SavedSwap(nil), e.txoHashes[txoHash]...)
}

// WatchedTxoHashes is the set of fingerprints the index should report.
func (e *EscrowSwaps) WatchedTxoHashes() map[string]struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]struct{}, len(e.txoHashes))
	for h := range e.txoHashes {
		out[h] = struct{}{}
	}
	return out
}

// Swaps returns every tracked swap ordered by escrow hash.
func (e *EscrowSwaps) Swaps() []*SavedSwap {
	return e.store.Values()
}

// GetClaimTxs builds bundles for matured swaps: first those whose output
// was found during the last sync, then every other tracked swap whose
// output is still in the index. Per-swap failures are logged and skipped.
func (e *EscrowSwaps) GetClaimTxs(ctx context.Context, foundTxos map[string]txindex.TxoEntry, headers map[int64]agreement.StoredHeader) map[string]*ClaimBundle {
	tip := e.idx.TipHeight()
	out := make(map[string]*ClaimBundle)

	attempt := func(swap *SavedSwap, entry txindex.TxoEntry) {
		if _, ok := out[swap.EscrowHash()]; ok {
			return
		}
		bundle, err := e.tryGetClaimTxs(ctx, swap, entry, tip, headers)
		if err != nil {
			e.log.WithError(err).WithFields(logger.Fields{
				"escrowHash": swap.EscrowHash(),
				"txId":       entry.TxID,
				"vout":       entry.Vout,
			}).Error("failed to get claim txs")
			return
		}
		if bundle != nil {
			out[swap.EscrowHash()] = bundle
		}
	}

	for txoHash, entry := range foundTxos {
		for _, swap := range e.swapsFor(txoHash) {
			attempt(swap, entry)
		}
	}

	for txoHash := range e.WatchedTxoHashes() {
		entry, ok := e.idx.GetTxoObject(txoHash)
		if !ok {
			continue
		}
		for _, swap := range e.swapsFor(txoHash) {
			attempt(swap, entry)
		}
	}

	return out
}

func (e *EscrowSwaps) tryGetClaimTxs(ctx context.Context, swap *SavedSwap, entry txindex.TxoEntry, tipHeight int64, headers map[int64]agreement.StoredHeader) (*ClaimBundle, error) {
	log := e.log.WithFields(logger.Fields{
		"escrowHash": swap.EscrowHash(),
		"txoHash":    swap.TxoHash,
		"txId":       entry.TxID,
		"vout":       entry.Vout,
	})

	if swap.ClaimAttemptFailed() {
		log.Debug("skipping swap, previous claim reverted")
		return nil, nil
	}

	requiredHeight := entry.Height + swap.SwapData.GetConfirmationsHint() - 1
	if requiredHeight > tipHeight {
		log.WithFields(logger.Fields{
			"requiredHeight": requiredHeight,
			"tipHeight":      tipHeight,
		}).Debug("cannot get claim txs yet")
		return nil, nil
	}

	release := swap.Lock(e.lockTimeout)
	if release == nil {
		log.Debug("claim already in progress")
		return nil, nil
	}

	decision := agreement.Proceed("", false)
	if e.shouldClaim != nil {
		d, err := e.shouldClaim(ctx, swap)
		if err != nil {
			release()
			return nil, err
		}
		if !d.Proceed {
			release()
			log.Debug("not claiming, declined by policy")
			return nil, nil
		}
		decision = d
	}
	log.WithFields(logger.Fields{
		"initAta": decision.InitAta,
		"feeRate": decision.FeeRate,
	}).Info("building claim txs")

	txs, err := e.createClaimTxs(ctx, swap, entry, headers, decision)
	if err != nil {
		// lock is left to expire
		return nil, err
	}
	if txs == nil {
		release()
		if _, err := e.removeByEscrowHash(ctx, swap.EscrowHash()); err != nil {
			return nil, err
		}
		log.Info("removed unclaimable swap")
		return nil, nil
	}

	return &ClaimBundle{
		Data: ClaimData{
			EscrowHash:  swap.EscrowHash(),
			SwapData:    swap.SwapData,
			TxID:        entry.TxID,
			Vout:        entry.Vout,
			BlockHeight: entry.Height,
			MaturedAt:   requiredHeight,
		},
		txs:      txs,
		contract: e.contract,
		release:  release,
	}, nil
}

// createClaimTxs returns nil txs when the escrow can never be claimed.
func (e *EscrowSwaps) createClaimTxs(ctx context.Context, swap *SavedSwap, entry txindex.TxoEntry, headers map[int64]agreement.StoredHeader, decision agreement.ClaimDecision) ([]agreement.Tx, error) {
	committed, err := e.contract.IsCommited(ctx, swap.SwapData)
	if err != nil {
		return nil, err
	}
	if !committed {
		e.log.WithField("escrowHash", swap.EscrowHash()).Info("not claiming, escrow no longer committed")
		return nil, nil
	}

	tx, err := e.btcRpc.GetTransaction(entry.TxID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTxNotFound(entry.TxID)
	}

	if int(entry.Vout) >= len(tx.Outs) {
		return nil, ErrTxoMismatch(swap.EscrowHash(), swap.TxoHash, "")
	}
	out := tx.Outs[entry.Vout]
	computed, err := txindex.ToTxoHash(out.Value, out.ScriptPubKeyHex)
	if err != nil {
		return nil, err
	}
	if computed != swap.TxoHash {
		return nil, ErrTxoMismatch(swap.EscrowHash(), swap.TxoHash, computed)
	}

	required := swap.SwapData.GetConfirmationsHint()
	if tx.Confirmations < required {
		return nil, ErrNotEnoughConfirmations(entry.TxID, tx.Confirmations, required)
	}

	var storedHeader agreement.StoredHeader
	if headers != nil {
		storedHeader = headers[entry.Height]
	}

	txs, err := e.contract.TxsClaimWithTxData(
		ctx, e.signer, swap.SwapData, tx, entry.Height, required, entry.Vout,
		storedHeader, decision.InitAta, decision.FeeRate,
	)
	if agreement.IsVerificationError(err) {
		e.log.WithError(err).WithField("escrowHash", swap.EscrowHash()).Warn("not claiming, swap data verification failed")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return txs, nil
}
