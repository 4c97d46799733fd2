// Package spvvault watches SPV vaults and proves their bitcoin withdrawals
// on the smart chain once they have enough confirmations.
package spvvault

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/watchtower-go/agreement"
	"github.com/TEENet-io/watchtower-go/btcman/rpc"
	"github.com/TEENet-io/watchtower-go/storage"
	"github.com/TEENet-io/watchtower-go/txindex"
)

const DEFAULT_LOCK_TIMEOUT = 120 * time.Second

// TxinIndex is the part of the tx index used here.
type TxinIndex interface {
	GetTxinObject(utxo string) (txindex.TxinEntry, bool)
	TipHeight() int64
}

type ClaimPolicy func(ctx context.Context, vault agreement.SpvVaultData, withdrawals []agreement.WithdrawalTxData) (agreement.ClaimDecision, error)

type Config struct {
	Index       TxinIndex
	Store       *storage.Store[agreement.SpvVaultData]
	Events      agreement.ChainEvents
	Contract    agreement.SpvVaultContract
	BtcRpc      rpc.BitcoinRpc
	Signer      agreement.Signer
	ShouldClaim ClaimPolicy
	LockTimeout time.Duration
	Logger      logger.FieldLogger
}

// VaultCodec stores vaults in their contract-native serialization.
func VaultCodec(deserialize agreement.SpvVaultDataDeserializer) storage.Codec[agreement.SpvVaultData] {
	return storage.Codec[agreement.SpvVaultData]{
		Encode: func(v agreement.SpvVaultData) ([]byte, error) { return v.Serialize() },
		Decode: deserialize,
	}
}

type SpvVaultSwaps struct {
	idx         TxinIndex
	store       *storage.Store[agreement.SpvVaultData]
	events      agreement.ChainEvents
	contract    agreement.SpvVaultContract
	btcRpc      rpc.BitcoinRpc
	signer      agreement.Signer
	shouldClaim ClaimPolicy
	lockTimeout time.Duration
	log         logger.FieldLogger

	mu    sync.Mutex
	utxos map[string]string // vault utxo -> vault key
	locks map[string]*agreement.Lockable
}

func New(cfg *Config) *SpvVaultSwaps {
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = DEFAULT_LOCK_TIMEOUT
	}
	log := cfg.Logger
	if log == nil {
		log = logger.WithField("module", "spvvault")
	}
	return &SpvVaultSwaps{
		idx:         cfg.Index,
		store:       cfg.Store,
		events:      cfg.Events,
		contract:    cfg.Contract,
		btcRpc:      cfg.BtcRpc,
		signer:      cfg.Signer,
		shouldClaim: cfg.ShouldClaim,
		lockTimeout: lockTimeout,
		log:         log,
		utxos:       make(map[string]string),
		locks:       make(map[string]*agreement.Lockable),
	}
}

func vaultKey(v agreement.SpvVaultData) string {
	return agreement.VaultIdentifier(v.GetOwner(), v.GetVaultID())
}

// Init loads persisted vaults. On a cold start every open vault is
// fetched from the contract instead.
func (s *SpvVaultSwaps) Init(ctx context.Context) error {
	loaded, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	if len(loaded) == 0 {
		vaults, err := s.contract.GetAllVaults(ctx)
		if err != nil {
			return err
		}
		for _, v := range vaults {
			if !v.IsOpened() {
				continue
			}
			if err := s.store.Save(ctx, vaultKey(v), v); err != nil {
				return err
			}
			loaded[vaultKey(v)] = v
		}
		s.log.WithField("vaults", len(loaded)).Info("fetched vaults from contract")
	} else {
		s.log.WithField("vaults", len(loaded)).Info("loaded vaults")
	}

	s.mu.Lock()
	for key, v := range loaded {
		s.utxos[v.GetUtxo()] = key
	}
	s.mu.Unlock()

	s.events.RegisterListener(s.HandleEvents)
	return nil
}

// HandleEvents applies close events right away and re-reads every vault
// opened or claimed in the batch once, after the whole batch.
func (s *SpvVaultSwaps) HandleEvents(ctx context.Context, events []agreement.ChainEvent) bool {
	type vaultRef struct {
		owner string
		id    *big.Int
	}
	var order []string
	refs := make(map[string]vaultRef)
	mark := func(owner string, id *big.Int) {
		key := agreement.VaultIdentifier(owner, id)
		if _, ok := refs[key]; !ok {
			order = append(order, key)
		}
		refs[key] = vaultRef{owner: owner, id: id}
	}

	for _, event := range events {
		switch ev := event.(type) {
		case *agreement.VaultOpenEvent:
			mark(ev.Owner, ev.VaultID)
		case *agreement.VaultClaimEvent:
			mark(ev.Owner, ev.VaultID)
		case *agreement.VaultCloseEvent:
			key := agreement.VaultIdentifier(ev.Owner, ev.VaultID)
			delete(refs, key)
			if _, err := s.remove(ctx, key); err != nil {
				s.log.WithError(err).WithField("vault", key).Error("failed to remove closed vault")
			}
		}
	}

	for _, key := range order {
		ref, ok := refs[key]
		if !ok {
			continue
		}
		if err := s.refresh(ctx, ref.owner, ref.id); err != nil {
			s.log.WithError(err).WithField("vault", key).Error("failed to refresh vault")
		}
	}
	return true
}

func (s *SpvVaultSwaps) refresh(ctx context.Context, owner string, vaultID *big.Int) error {
	v, err := s.contract.GetVaultData(ctx, owner, vaultID)
	if err != nil {
		return err
	}
	if v == nil || !v.IsOpened() {
		_, err := s.remove(ctx, agreement.VaultIdentifier(owner, vaultID))
		return err
	}
	return s.save(ctx, v)
}

func (s *SpvVaultSwaps) save(ctx context.Context, v agreement.SpvVaultData) error {
	key := vaultKey(v)

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.store.Get(key)
	if err := s.store.Save(ctx, key, v); err != nil {
		return err
	}
	if ok {
		delete(s.utxos, old.GetUtxo())
	}
	s.utxos[v.GetUtxo()] = key
	s.log.WithFields(logger.Fields{"vault": key, "utxo": v.GetUtxo()}).Info("vault updated")
	return nil
}

func (s *SpvVaultSwaps) remove(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.store.Get(key)
	if !ok {
		return false, nil
	}
	if _, err := s.store.Remove(ctx, key); err != nil {
		return false, err
	}
	delete(s.utxos, old.GetUtxo())
	delete(s.locks, key)
	s.log.WithField("vault", key).Info("vault removed")
	return true, nil
}

func (s *SpvVaultSwaps) lockFor(key string) *agreement.Lockable {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &agreement.Lockable{}
		s.locks[key] = l
	}
	return l
}

// WatchedUtxos is the set of vault utxos whose spenders the index should report.
func (s *SpvVaultSwaps) WatchedUtxos() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.utxos))
	for u := range s.utxos {
		out[u] = struct{}{}
	}
	return out
}

// Vaults returns the tracked vaults ordered by key.
func (s *SpvVaultSwaps) Vaults() []agreement.SpvVaultData {
	return s.store.Values()
}

// GetClaimTxs follows each vault's utxo through its chain of spenders and
// returns a bundle per vault with claimable withdrawals, keyed by vault.
// Vaults touched by the last sync are handled first.
func (s *SpvVaultSwaps) GetClaimTxs(ctx context.Context, foundTxins map[string]txindex.TxinEntry, headers map[int64]agreement.StoredHeader) map[string]*ClaimBundle {
	tip := s.idx.TipHeight()
	out := make(map[string]*ClaimBundle)
	processedUtxos := make(map[string]struct{})
	processedVaults := make(map[string]struct{})

	attempt := func(key string) {
		if _, ok := processedVaults[key]; ok {
			return
		}
		processedVaults[key] = struct{}{}
		vault, ok := s.store.Get(key)
		if !ok {
			return
		}
		chain := s.collectSpends(vault.GetUtxo(), foundTxins, processedUtxos)
		if len(chain) == 0 {
			return
		}
		bundle, err := s.tryGetClaimTxs(ctx, key, vault, chain, tip, headers)
		if err != nil {
			s.log.WithError(err).WithField("vault", key).Error("failed to get vault claim txs")
			return
		}
		if bundle != nil {
			out[key] = bundle
		}
	}

	for _, utxo := range sortedKeys(foundTxins) {
		s.mu.Lock()
		key, ok := s.utxos[utxo]
		s.mu.Unlock()
		if ok {
			attempt(key)
		}
	}
	for _, key := range s.store.Keys() {
		attempt(key)
	}
	return out
}

// collectSpends walks txid:0 links from utxo, oldest spender first.
func (s *SpvVaultSwaps) collectSpends(utxo string, found map[string]txindex.TxinEntry, processed map[string]struct{}) []txindex.TxinEntry {
	var chain []txindex.TxinEntry
	for {
		if _, ok := processed[utxo]; ok {
			break
		}
		entry, ok := found[utxo]
		if !ok {
			entry, ok = s.idx.GetTxinObject(utxo)
		}
		if !ok {
			break
		}
		processed[utxo] = struct{}{}
		chain = append(chain, entry)
		utxo = txindex.UtxoKey(entry.TxID, 0)
	}
	return chain
}

func (s *SpvVaultSwaps) tryGetClaimTxs(ctx context.Context, key string, vault agreement.SpvVaultData, chain []txindex.TxinEntry, tipHeight int64, headers map[int64]agreement.StoredHeader) (*ClaimBundle, error) {
	log := s.log.WithFields(logger.Fields{"vault": key, "utxo": vault.GetUtxo()})

	if !vault.IsOpened() {
		return nil, nil
	}

	release := s.lockFor(key).Lock(s.lockTimeout)
	if release == nil {
		log.Debug("vault claim already in progress")
		return nil, nil
	}

	fresh, err := s.contract.GetVaultData(ctx, vault.GetOwner(), vault.GetVaultID())
	if err != nil {
		release()
		return nil, err
	}
	if fresh == nil || !fresh.IsOpened() {
		release()
		_, err := s.remove(ctx, key)
		return nil, err
	}
	if fresh.GetUtxo() != vault.GetUtxo() {
		if err := s.save(ctx, fresh); err != nil {
			release()
			return nil, err
		}
		chain = trimSpends(vault.GetUtxo(), fresh.GetUtxo(), chain)
	}

	withdrawals := s.claimableWithdrawals(ctx, fresh, chain, tipHeight, headers)
	if len(withdrawals) == 0 {
		release()
		return nil, nil
	}

	decision := agreement.Proceed("", false)
	if s.shouldClaim != nil {
		d, err := s.shouldClaim(ctx, fresh, withdrawals)
		if err != nil {
			release()
			return nil, err
		}
		if !d.Proceed {
			release()
			log.Debug("not claiming vault, declined by policy")
			return nil, nil
		}
		decision = d
	}

	log.WithField("withdrawals", len(withdrawals)).Info("vault withdrawals claimable")
	return &ClaimBundle{
		Data: ClaimData{
			VaultKey:      key,
			Owner:         fresh.GetOwner(),
			Confirmations: fresh.GetConfirmations(),
			Withdrawals:   withdrawals,
		},
		vault:    fresh,
		contract: s.contract,
		signer:   s.signer,
		decision: decision,
		release:  release,
	}, nil
}

// claimableWithdrawals keeps the longest prefix of chain that is mature
// and valid against the vault state.
func (s *SpvVaultSwaps) claimableWithdrawals(ctx context.Context, vault agreement.SpvVaultData, chain []txindex.TxinEntry, tipHeight int64, headers map[int64]agreement.StoredHeader) []agreement.WithdrawalTxData {
	var (
		out    []agreement.WithdrawalTxData
		parsed []agreement.SpvVaultWithdrawalData
	)
	for _, entry := range chain {
		log := s.log.WithFields(logger.Fields{"txId": entry.TxID, "height": entry.Height})
		if entry.Height+vault.GetConfirmations()-1 > tipHeight {
			log.Debug("withdrawal not mature yet")
			break
		}
		tx, err := s.btcRpc.GetTransaction(entry.TxID)
		if err == nil && tx == nil {
			err = ErrWithdrawalTxNotFound(entry.TxID)
		}
		if err != nil {
			log.WithError(err).Warn("failed to fetch withdrawal tx")
			break
		}
		w, err := s.contract.GetWithdrawalData(ctx, tx)
		if err != nil {
			log.WithError(err).Warn("failed to parse withdrawal")
			break
		}
		if err := vault.CalculateStateAfter(append(parsed, w)); err != nil {
			log.WithError(err).Warn("invalid withdrawal")
			break
		}
		parsed = append(parsed, w)

		var header agreement.StoredHeader
		if headers != nil {
			header = headers[entry.Height]
		}
		out = append(out, agreement.WithdrawalTxData{
			Withdrawal:   w,
			BlockHeight:  entry.Height,
			StoredHeader: header,
		})
	}
	return out
}

// trimSpends drops the spenders preceding the one that spends target.
func trimSpends(start, target string, chain []txindex.TxinEntry) []txindex.TxinEntry {
	utxo := start
	for i, entry := range chain {
		if utxo == target {
			return chain[i:]
		}
		utxo = txindex.UtxoKey(entry.TxID, 0)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
