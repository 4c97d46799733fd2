// Package txindex keeps a reorg-tolerant index of the most recent bitcoin
// blocks: which output fingerprints were created and which utxos were spent,
// limited to a sliding window of PruningFactor blocks below the tip.
package txindex

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strconv"
	"sync"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/watchtower-go/btcman/rpc"
)

const DEFAULT_PRUNING_FACTOR = 30

type Config struct {
	PruningFactor  int64  // window size in blocks, 0 for default
	CheckpointFile string // tip height persistence, "" to disable
	Logger         logger.FieldLogger
}

// TxoEntry locates an output by its fingerprint.
type TxoEntry struct {
	TxID   string
	Vout   uint32
	Height int64
}

// TxinEntry is the tx spending a utxo.
type TxinEntry struct {
	TxID   string
	Height int64
}

// Watch holds the fingerprints and utxo keys a caller wants reported.
type Watch struct {
	Txos  map[string]struct{}
	Txins map[string]struct{}
}

// SyncResult holds what was observed while indexing, keyed by
// fingerprint and by utxo key. Entries stay valid even if the block
// they came from was evicted later in the same call.
type SyncResult struct {
	FoundTxos  map[string]TxoEntry
	FoundTxins map[string]TxinEntry
}

func newSyncResult() *SyncResult {
	return &SyncResult{
		FoundTxos:  make(map[string]TxoEntry),
		FoundTxins: make(map[string]TxinEntry),
	}
}

func (r *SyncResult) merge(other *SyncResult) {
	for k, v := range other.FoundTxos {
		r.FoundTxos[k] = v
	}
	for k, v := range other.FoundTxins {
		r.FoundTxins[k] = v
	}
}

type blockManifest struct {
	hash      string
	txoHashes []string
	txins     []string
}

// Index is the windowed tx index. All mutations are serialized.
type Index struct {
	mu sync.RWMutex

	rpc            rpc.BitcoinRpc
	pruningFactor  int64
	checkpointFile string
	log            logger.FieldLogger

	initialized bool
	tipHeight   int64
	txoMap      map[string]TxoEntry
	txinMap     map[string]TxinEntry
	blocksMap   map[int64]*blockManifest
}

func New(cfg *Config, btcRpc rpc.BitcoinRpc) *Index {
	initPrometheusMetrics()

	p := cfg.PruningFactor
	if p <= 0 {
		p = DEFAULT_PRUNING_FACTOR
	}
	log := cfg.Logger
	if log == nil {
		log = logger.WithField("module", "txindex")
	}
	return &Index{
		rpc:            btcRpc,
		pruningFactor:  p,
		checkpointFile: cfg.CheckpointFile,
		log:            log,
		txoMap:         make(map[string]TxoEntry),
		txinMap:        make(map[string]TxinEntry),
		blocksMap:      make(map[int64]*blockManifest),
	}
}

// ToTxoHash is the output fingerprint: sha256(LE64(value) || script), hex encoded.
func ToTxoHash(value int64, scriptHex string) (string, error) {
	script, err := hex.DecodeString(scriptHex)
	if err != nil {
		return "", ErrInvalidScriptHex(scriptHex, err)
	}
	buf := make([]byte, 8+len(script))
	binary.LittleEndian.PutUint64(buf, uint64(value))
	copy(buf[8:], script)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// UtxoKey formats an outpoint as "txid:vout".
func UtxoKey(txID string, vout uint32) string {
	return txID + ":" + strconv.FormatUint(uint64(vout), 10)
}

// Init sets the tip, resuming from the checkpoint when it is ahead of
// startHeight, and indexes the PruningFactor blocks ending at the tip.
// The backfill does not touch the checkpoint.
func (idx *Index) Init(startHeight int64) (int64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	saved, ok, err := readCheckpoint(idx.checkpointFile)
	if err != nil {
		return 0, err
	}
	if ok && saved > startHeight {
		idx.log.WithFields(logger.Fields{
			"checkpoint":  saved,
			"startHeight": startHeight,
		}).Info("resuming from checkpoint")
		startHeight = saved
	}
	idx.tipHeight = startHeight

	for i := int64(0); i < idx.pruningFactor; i++ {
		height := startHeight - i
		if height < 0 {
			break
		}
		hash, err := idx.rpc.GetBlockHash(height)
		if err != nil {
			return 0, err
		}
		if _, err := idx.addBlock(hash, nil, nil, true); err != nil {
			return 0, err
		}
	}

	idx.initialized = true
	prometheusTxIndexTipHeight.Set(float64(idx.tipHeight))
	return idx.tipHeight, nil
}

// AddBlock indexes a single block. Seeds are utxo keys whose spenders
// should be followed along output 0; the set is updated in place.
func (idx *Index) AddBlock(blockHash string, watch *Watch, seeds map[string]struct{}, noSaveTipHeight bool) (*SyncResult, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.addBlock(blockHash, watch, seeds, noSaveTipHeight)
}

func (idx *Index) addBlock(blockHash string, watch *Watch, seeds map[string]struct{}, noSaveTipHeight bool) (*SyncResult, error) {
	if seeds == nil {
		seeds = make(map[string]struct{})
	}
	if watch == nil {
		watch = &Watch{}
	}

	block, err := idx.rpc.GetBlockWithTransactions(blockHash)
	if err != nil {
		return nil, err
	}
	height := block.Height

	if !noSaveTipHeight {
		idx.tipHeight = height
		prometheusTxIndexTipHeight.Set(float64(height))
		if err := writeCheckpoint(idx.checkpointFile, height); err != nil {
			return nil, err
		}
	}

	if old, ok := idx.blocksMap[height]; ok {
		if old.hash != block.Hash {
			idx.log.WithFields(logger.Fields{
				"height":  height,
				"oldHash": old.hash,
				"newHash": block.Hash,
			}).Info("fork, replacing indexed block")
			prometheusTxIndexForks.Inc()
		}
		idx.evict(height, old)
	}

	result := newSyncResult()
	manifest := &blockManifest{hash: block.Hash}

	for _, tx := range block.Txs {
		for _, out := range tx.Outs {
			txoHash, err := ToTxoHash(out.Value, out.ScriptPubKeyHex)
			if err != nil {
				return nil, err
			}
			entry := TxoEntry{TxID: tx.TxID, Vout: out.N, Height: height}
			manifest.txoHashes = append(manifest.txoHashes, txoHash)
			idx.txoMap[txoHash] = entry
			if _, ok := watch.Txos[txoHash]; ok {
				result.FoundTxos[txoHash] = entry
			}
		}
		for _, in := range tx.Ins {
			spent := UtxoKey(in.TxID, in.Vout)
			entry := TxinEntry{TxID: tx.TxID, Height: height}
			manifest.txins = append(manifest.txins, spent)
			idx.txinMap[spent] = entry
			if _, ok := watch.Txins[spent]; ok {
				result.FoundTxins[spent] = entry
				// the spender recreates the tracked state at its output 0
				seeds[UtxoKey(tx.TxID, 0)] = struct{}{}
			}
		}
	}

	for seed := range seeds {
		entry, ok := idx.txinMap[seed]
		if !ok {
			continue
		}
		delete(seeds, seed)
		utxo := seed
		for ok {
			result.FoundTxins[utxo] = entry
			utxo = UtxoKey(entry.TxID, 0)
			entry, ok = idx.txinMap[utxo]
		}
	}

	idx.blocksMap[height] = manifest
	prometheusTxIndexBlocksAdded.Inc()

	idx.enforceWindow(height, !noSaveTipHeight)

	idx.log.WithFields(logger.Fields{
		"height": height,
		"hash":   block.Hash,
		"txs":    len(block.Txs),
	}).Debug("indexed block")

	return result, nil
}

// enforceWindow drops manifests that fell out of the window below height.
// When the tip moved, anything above it belongs to an abandoned branch.
func (idx *Index) enforceWindow(height int64, tipMoved bool) {
	for h, m := range idx.blocksMap {
		if h <= height-idx.pruningFactor || (tipMoved && h > height) {
			idx.log.WithField("height", h).Debug("pruning block")
			idx.evict(h, m)
			prometheusTxIndexPruned.Inc()
		}
	}
}

// evict removes a manifest and the live entries it originated.
// Entries overwritten by a block at another height are kept.
func (idx *Index) evict(height int64, m *blockManifest) {
	for _, txoHash := range m.txoHashes {
		if e, ok := idx.txoMap[txoHash]; ok && e.Height == height {
			delete(idx.txoMap, txoHash)
		}
	}
	for _, utxo := range m.txins {
		if e, ok := idx.txinMap[utxo]; ok && e.Height == height {
			delete(idx.txinMap, utxo)
		}
	}
	delete(idx.blocksMap, height)
}

// SyncToTipHash walks back from tipHash to the first indexed ancestor (or
// out of the window), then replays the walked blocks oldest first. RPC
// errors abort the call, blocks already replayed stay applied.
func (idx *Index) SyncToTipHash(tipHash string, watch *Watch) (*SyncResult, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.initialized {
		return nil, ErrNotInitialized
	}

	hashes := []string{tipHash}
	for {
		header, err := idx.rpc.GetBlockHeader(hashes[len(hashes)-1])
		if err != nil {
			return nil, err
		}
		if m, ok := idx.blocksMap[header.Height-1]; ok && m.hash == header.PrevHash {
			break
		}
		if header.Height < idx.tipHeight-idx.pruningFactor || header.Height <= 0 {
			break
		}
		hashes = append(hashes, header.PrevHash)
	}

	idx.log.WithFields(logger.Fields{
		"tipHash": tipHash,
		"blocks":  len(hashes),
	}).Info("syncing to tip")
	prometheusTxIndexReplayLength.Observe(float64(len(hashes)))

	total := newSyncResult()
	seeds := make(map[string]struct{})
	for i := len(hashes) - 1; i >= 0; i-- {
		found, err := idx.addBlock(hashes[i], watch, seeds, false)
		if err != nil {
			return nil, err
		}
		total.merge(found)
	}
	return total, nil
}

// GetTxoObject looks up a fingerprint in the live window.
func (idx *Index) GetTxoObject(txoHash string) (TxoEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.txoMap[txoHash]
	return e, ok
}

// GetTxinObject looks up the spender of a utxo in the live window.
func (idx *Index) GetTxinObject(utxo string) (TxinEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.txinMap[utxo]
	return e, ok
}

func (idx *Index) TipHeight() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tipHeight
}

// BlockHashAt returns the hash indexed at height, "" if none.
func (idx *Index) BlockHashAt(height int64) string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if m, ok := idx.blocksMap[height]; ok {
		return m.hash
	}
	return ""
}

// Heights returns the indexed heights in ascending order.
func (idx *Index) Heights() []int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	heights := make([]int64, 0, len(idx.blocksMap))
	for h := range idx.blocksMap {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights
}
