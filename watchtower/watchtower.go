// Package watchtower wires the tx index to the escrow and vault
// orchestrators and keeps them in step with the bitcoin relay.
package watchtower

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TEENet-io/watchtower-go/agreement"
	"github.com/TEENet-io/watchtower-go/btcman/rpc"
	"github.com/TEENet-io/watchtower-go/escrow"
	"github.com/TEENet-io/watchtower-go/spvvault"
	"github.com/TEENet-io/watchtower-go/storage"
	"github.com/TEENet-io/watchtower-go/txindex"
)

const DEFAULT_POLL_INTERVAL = 5 * time.Second

type Config struct {
	BtcRpc        rpc.BitcoinRpc
	Events        agreement.ChainEvents
	Relay         agreement.BtcRelay
	SwapContract  agreement.SwapContract
	VaultContract agreement.SpvVaultContract
	Signer        agreement.Signer

	SwapStore  *storage.Store[*escrow.SavedSwap]
	VaultStore *storage.Store[agreement.SpvVaultData]

	ShouldClaimSwap  escrow.ClaimPolicy
	ShouldClaimVault spvvault.ClaimPolicy

	PruningFactor  int64
	CheckpointFile string
	PollInterval   time.Duration
	LockTimeout    time.Duration

	Logger logger.FieldLogger
}

type Watchtower struct {
	events       agreement.ChainEvents
	relay        agreement.BtcRelay
	pollInterval time.Duration
	log          logger.FieldLogger

	index  *txindex.Index
	swaps  *escrow.EscrowSwaps
	vaults *spvvault.SpvVaultSwaps

	publisher *PublisherService

	mu      sync.Mutex
	tipHash string
}

func New(cfg *Config) *Watchtower {
	initPrometheusMetrics()

	log := cfg.Logger
	if log == nil {
		log = logger.WithField("module", "watchtower")
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DEFAULT_POLL_INTERVAL
	}

	w := &Watchtower{
		events:       cfg.Events,
		relay:        cfg.Relay,
		pollInterval: pollInterval,
		log:          log,
		publisher:    NewPublisherService(),
	}

	w.index = txindex.New(&txindex.Config{
		PruningFactor:  cfg.PruningFactor,
		CheckpointFile: cfg.CheckpointFile,
		Logger:         log.WithField("module", "txindex"),
	}, cfg.BtcRpc)

	w.swaps = escrow.New(&escrow.Config{
		Index:       w.index,
		Store:       cfg.SwapStore,
		Events:      cfg.Events,
		Contract:    cfg.SwapContract,
		BtcRpc:      cfg.BtcRpc,
		Signer:      cfg.Signer,
		ShouldClaim: cfg.ShouldClaimSwap,
		OnClaimable: func(escrowHash string, bundle *escrow.ClaimBundle) {
			prometheusWatchtowerBundles.WithLabelValues("escrow").Inc()
			w.publish(map[string]agreement.ClaimBundle{escrowHash: bundle})
		},
		LockTimeout: cfg.LockTimeout,
		Logger:      log.WithField("module", "escrow"),
	})

	w.vaults = spvvault.New(&spvvault.Config{
		Index:       w.index,
		Store:       cfg.VaultStore,
		Events:      cfg.Events,
		Contract:    cfg.VaultContract,
		BtcRpc:      cfg.BtcRpc,
		Signer:      cfg.Signer,
		ShouldClaim: cfg.ShouldClaimVault,
		LockTimeout: cfg.LockTimeout,
		Logger:      log.WithField("module", "spvvault"),
	})

	return w
}

// Init loads both orchestrators, starts chain events, indexes the window
// ending at the relay's latest header and syncs once. It returns every
// bundle claimable right away, keyed by escrow hash or vault key.
func (w *Watchtower) Init(ctx context.Context) (map[string]agreement.ClaimBundle, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.swaps.Init(gctx) })
	g.Go(func() error { return w.vaults.Init(gctx) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := w.events.Init(ctx); err != nil {
		return nil, err
	}

	blockLog, err := w.relay.RetrieveLatestKnownBlockLog(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := w.index.Init(blockLog.Height); err != nil {
		return nil, err
	}
	w.log.WithFields(logger.Fields{
		"height": blockLog.Height,
		"hash":   blockLog.Hash,
	}).Info("tx index initialized")

	out := make(map[string]agreement.ClaimBundle)
	w.collect(out, w.swaps.GetClaimTxs(ctx, nil, nil), w.vaults.GetClaimTxs(ctx, nil, nil))

	synced, err := w.SyncToTipHash(ctx, blockLog.Hash, nil)
	if err != nil {
		return nil, err
	}
	for id, b := range synced {
		out[id] = b
	}
	return out, nil
}

// SyncToTipHash advances the index to tipHash and returns the bundles
// that became claimable. headers are relay-stored headers by height, may be nil.
func (w *Watchtower) SyncToTipHash(ctx context.Context, tipHash string, headers map[int64]agreement.StoredHeader) (map[string]agreement.ClaimBundle, error) {
	watch := &txindex.Watch{
		Txos:  w.swaps.WatchedTxoHashes(),
		Txins: w.vaults.WatchedUtxos(),
	}
	res, err := w.index.SyncToTipHash(tipHash, watch)
	if err != nil {
		prometheusWatchtowerSyncErrors.Inc()
		return nil, err
	}

	w.mu.Lock()
	w.tipHash = tipHash
	w.mu.Unlock()

	out := make(map[string]agreement.ClaimBundle)
	w.collect(out,
		w.swaps.GetClaimTxs(ctx, res.FoundTxos, headers),
		w.vaults.GetClaimTxs(ctx, res.FoundTxins, headers),
	)

	prometheusWatchtowerSyncs.Inc()
	prometheusWatchtowerSwaps.Set(float64(len(w.swaps.Swaps())))
	prometheusWatchtowerVaults.Set(float64(len(w.vaults.Vaults())))

	w.log.WithFields(logger.Fields{
		"tipHash":    tipHash,
		"tipHeight":  w.index.TipHeight(),
		"foundTxos":  len(res.FoundTxos),
		"foundTxins": len(res.FoundTxins),
		"bundles":    len(out),
	}).Info("synced")
	return out, nil
}

func (w *Watchtower) collect(out map[string]agreement.ClaimBundle, swaps map[string]*escrow.ClaimBundle, vaults map[string]*spvvault.ClaimBundle) {
	for id, b := range swaps {
		out[id] = b
	}
	for id, b := range vaults {
		out[id] = b
	}
	prometheusWatchtowerBundles.WithLabelValues("escrow").Add(float64(len(swaps)))
	prometheusWatchtowerBundles.WithLabelValues("vault").Add(float64(len(vaults)))
}

// MarkClaimReverted records an on-chain revert of an escrow claim.
func (w *Watchtower) MarkClaimReverted(ctx context.Context, escrowHash string) (bool, error) {
	return w.swaps.MarkEscrowClaimReverted(ctx, escrowHash)
}

func (w *Watchtower) TipHeight() int64 {
	return w.index.TipHeight()
}

// Escrows exposes the escrow orchestrator.
func (w *Watchtower) Escrows() *escrow.EscrowSwaps {
	return w.swaps
}

// Vaults exposes the vault orchestrator.
func (w *Watchtower) Vaults() *spvvault.SpvVaultSwaps {
	return w.vaults
}

// Publisher delivers bundles found by Loop and by chain events.
func (w *Watchtower) Publisher() *PublisherService {
	return w.publisher
}

type Status struct {
	TipHeight     int64  `json:"tipHeight"`
	TipHash       string `json:"tipHash"`
	IndexedBlocks int    `json:"indexedBlocks"`
	Swaps         int    `json:"swaps"`
	Vaults        int    `json:"vaults"`
	WatchedTxos   int    `json:"watchedTxos"`
	WatchedUtxos  int    `json:"watchedUtxos"`
}

func (w *Watchtower) Status() Status {
	w.mu.Lock()
	tipHash := w.tipHash
	w.mu.Unlock()
	return Status{
		TipHeight:     w.index.TipHeight(),
		TipHash:       tipHash,
		IndexedBlocks: len(w.index.Heights()),
		Swaps:         len(w.swaps.Swaps()),
		Vaults:        len(w.vaults.Vaults()),
		WatchedTxos:   len(w.swaps.WatchedTxoHashes()),
		WatchedUtxos:  len(w.vaults.WatchedUtxos()),
	}
}
