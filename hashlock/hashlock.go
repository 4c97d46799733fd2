// Package hashlock claims HTLC escrows with preimages broadcast by swap
// participants over the messenger.
package hashlock

import (
	"context"
	"sync"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/watchtower-go/agreement"
	"github.com/TEENet-io/watchtower-go/common"
	"github.com/TEENet-io/watchtower-go/escrow"
	"github.com/TEENet-io/watchtower-go/storage"
	"github.com/TEENet-io/watchtower-go/witnesscache"
)

type Config struct {
	Messenger   agreement.Messenger
	Events      agreement.ChainEvents
	Contract    agreement.SwapContract
	Store       *storage.Store[*escrow.SavedSwap]
	Signer      agreement.Signer
	ShouldClaim escrow.ClaimPolicy
	Secrets     *witnesscache.PrunedSecretsMap // nil for a default sized cache
	Logger      logger.FieldLogger
}

type Watchtower struct {
	messenger   agreement.Messenger
	events      agreement.ChainEvents
	contract    agreement.SwapContract
	store       *storage.Store[*escrow.SavedSwap]
	signer      agreement.Signer
	shouldClaim escrow.ClaimPolicy
	secrets     *witnesscache.PrunedSecretsMap
	log         logger.FieldLogger

	ctx context.Context

	mu              sync.Mutex
	claimsInProcess map[string]struct{}
}

func New(cfg *Config) *Watchtower {
	secrets := cfg.Secrets
	if secrets == nil {
		secrets = witnesscache.New(witnesscache.DEFAULT_CAPACITY)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.WithField("module", "hashlock")
	}
	return &Watchtower{
		messenger:       cfg.Messenger,
		events:          cfg.Events,
		contract:        cfg.Contract,
		store:           cfg.Store,
		signer:          cfg.Signer,
		shouldClaim:     cfg.ShouldClaim,
		secrets:         secrets,
		log:             log,
		ctx:             context.Background(),
		claimsInProcess: make(map[string]struct{}),
	}
}

// Init loads tracked HTLC escrows and registers for chain events.
func (w *Watchtower) Init(ctx context.Context) error {
	loaded, err := w.store.Load(ctx)
	if err != nil {
		return err
	}
	w.log.WithField("swaps", len(loaded)).Info("loaded hashlock swaps")
	w.events.RegisterListener(w.HandleEvents)
	return nil
}

// SubscribeToMessages starts receiving witness messages. ctx bounds the
// claims they trigger.
func (w *Watchtower) SubscribeToMessages(ctx context.Context) error {
	w.ctx = ctx
	if err := w.messenger.Subscribe(w.HandleMessage); err != nil {
		return err
	}
	return w.messenger.Init(ctx)
}

func (w *Watchtower) HandleEvents(ctx context.Context, events []agreement.ChainEvent) bool {
	for _, event := range events {
		switch ev := event.(type) {
		case *agreement.InitializeEvent:
			if ev.SwapType != agreement.SwapTypeHTLC {
				continue
			}
			swap := escrow.NewSavedSwap("", ev.SwapData)
			if _, ok := w.store.Get(ev.EscrowHash); ok {
				continue
			}
			if err := w.store.Save(ctx, ev.EscrowHash, swap); err != nil {
				w.log.WithError(err).WithField("escrowHash", ev.EscrowHash).Error("failed to save htlc swap")
				continue
			}
			w.log.WithField("escrowHash", ev.EscrowHash).Debug("added htlc swap")

			if secret, ok := w.secrets.Get(ev.EscrowHash); ok {
				w.Claim(ctx, swap, secret)
			}
		case *agreement.VoidEvent:
			if _, err := w.store.Remove(ctx, ev.EscrowHash); err != nil {
				w.log.WithError(err).WithField("escrowHash", ev.EscrowHash).Error("failed to remove htlc swap")
			}
		}
	}
	return true
}

// HandleMessage accepts a witness if it hashes to the claim hash of the
// swap it names. Valid witnesses are cached and a claim is attempted
// whenever the escrow is tracked, also for witnesses seen before.
func (w *Watchtower) HandleMessage(msg agreement.Message) {
	m, ok := msg.(*agreement.SwapClaimWitnessMessage)
	if !ok || m.SwapData == nil {
		return
	}
	if m.SwapData.GetType() != agreement.SwapTypeHTLC {
		return
	}
	escrowHash := m.SwapData.GetEscrowHash()
	log := w.log.WithField("escrowHash", escrowHash)

	witness, err := common.DecodeFixedHex(m.Witness, 32)
	if err != nil {
		log.WithError(err).Debug("ignoring malformed witness")
		return
	}
	if w.contract.GetHashForHtlc(witness) != m.SwapData.GetClaimHash() {
		log.Debug("ignoring witness not matching claim hash")
		return
	}
	secret := common.ByteSliceToPureHexStr(witness)

	// repeated witnesses still reach Claim
	if w.secrets.Set(escrowHash, secret) {
		log.WithField("secret", common.Shorten(secret, 4)).Info("received valid witness")
	}

	swap, ok := w.store.Get(escrowHash)
	if !ok {
		return
	}
	if swap.SwapData.GetClaimHash() != m.SwapData.GetClaimHash() {
		log.Warn("witness claim hash differs from tracked escrow")
		return
	}
	w.Claim(w.ctx, swap, secret)
}

// Claim submits the hashlock claim of swap. Concurrent calls for the same
// escrow are dropped while one is in flight.
func (w *Watchtower) Claim(ctx context.Context, swap *escrow.SavedSwap, secret string) {
	escrowHash := swap.EscrowHash()
	log := w.log.WithField("escrowHash", escrowHash)

	if swap.ClaimAttemptFailed() {
		return
	}

	w.mu.Lock()
	if _, ok := w.claimsInProcess[escrowHash]; ok {
		w.mu.Unlock()
		return
	}
	w.claimsInProcess[escrowHash] = struct{}{}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.claimsInProcess, escrowHash)
		w.mu.Unlock()
	}()

	committed, err := w.contract.IsCommited(ctx, swap.SwapData)
	if err != nil {
		log.WithError(err).Error("failed to check escrow state")
		return
	}
	if !committed {
		log.Info("escrow no longer committed")
		w.remove(ctx, escrowHash)
		return
	}

	decision := agreement.Proceed("", false)
	if w.shouldClaim != nil {
		decision, err = w.shouldClaim(ctx, swap)
		if err != nil {
			log.WithError(err).Error("claim policy failed")
			return
		}
		if !decision.Proceed {
			log.Debug("not claiming, declined by policy")
			return
		}
	}

	txID, err := w.contract.ClaimWithSecret(ctx, w.signer, swap.SwapData, secret, decision.InitAta, decision.FeeRate)
	switch {
	case agreement.IsRevertedError(err):
		log.WithError(err).Warn("htlc claim reverted")
		swap.SetClaimAttemptFailed(true)
		if err := w.store.Save(ctx, escrowHash, swap); err != nil {
			log.WithError(err).Error("failed to persist claim failure")
		}
	case agreement.IsVerificationError(err):
		log.WithError(err).Warn("htlc claim rejected")
		w.remove(ctx, escrowHash)
	case err != nil:
		log.WithError(err).Error("htlc claim failed")
	default:
		log.WithField("txId", txID).Info("htlc claimed")
	}
}

func (w *Watchtower) remove(ctx context.Context, escrowHash string) {
	if _, err := w.store.Remove(ctx, escrowHash); err != nil {
		w.log.WithError(err).WithField("escrowHash", escrowHash).Error("failed to remove htlc swap")
	}
}

// Swaps returns the tracked HTLC escrows ordered by escrow hash.
func (w *Watchtower) Swaps() []*escrow.SavedSwap {
	return w.store.Values()
}

// KnownWitnesses is the number of cached witnesses.
func (w *Watchtower) KnownWitnesses() int {
	return w.secrets.Len()
}
