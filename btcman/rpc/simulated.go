package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var ErrUnknownBlock = errors.New("unknown block")

// SimChain is an in-memory bitcoin chain with reorg support.
// Transactions are real wire txs so ids and scripts look like mainnet data.
type SimChain struct {
	mu sync.Mutex

	blocks    map[string]*Block  // every block ever mined, orphans included
	prev      map[string]string  // block hash -> previous block hash
	mainChain []string           // index is height
	txBlock   map[string]string  // txid -> hash of the block it was last mined in
	txs       map[string]*wire.MsgTx
	nonce     uint32

	// GetBlockCalls counts full block fetches.
	GetBlockCalls int
}

// NewSimChain creates a chain holding only an empty genesis block at height 0.
func NewSimChain() *SimChain {
	s := &SimChain{
		blocks:  make(map[string]*Block),
		prev:    make(map[string]string),
		txBlock: make(map[string]string),
		txs:     make(map[string]*wire.MsgTx),
	}
	s.mine(nil)
	return s
}

// Tip returns the best block.
func (s *SimChain) Tip() *Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[s.mainChain[len(s.mainChain)-1]]
}

// Mine appends a block with txs on top of the current tip.
func (s *SimChain) Mine(txs ...*wire.MsgTx) *Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mine(txs)
}

// MineEmpty appends n empty blocks and returns the last one.
func (s *SimChain) MineEmpty(n int) *Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b *Block
	for i := 0; i < n; i++ {
		b = s.mine(nil)
	}
	return b
}

// MineTo appends empty blocks until the tip reaches height.
func (s *SimChain) MineTo(height int64) *Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	for int64(len(s.mainChain)-1) < height {
		s.mine(nil)
	}
	return s.blocks[s.mainChain[len(s.mainChain)-1]]
}

// Rewind disconnects every main-chain block above height.
// Following Mine calls build a competing branch from there.
func (s *SimChain) Rewind(height int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if height < 0 || height >= int64(len(s.mainChain)) {
		return
	}
	s.mainChain = s.mainChain[:height+1]
}

func (s *SimChain) mine(txs []*wire.MsgTx) *Block {
	height := int64(len(s.mainChain))
	prevHash := chainhash.Hash{}
	if height > 0 {
		h, _ := chainhash.NewHashFromStr(s.mainChain[height-1])
		prevHash = *h
	}

	all := append([]*wire.MsgTx{coinbaseTx(height)}, txs...)
	txHashes := make([]byte, 0, len(all)*chainhash.HashSize)
	for _, tx := range all {
		h := tx.TxHash()
		txHashes = append(txHashes, h[:]...)
	}

	s.nonce++
	header := wire.NewBlockHeader(1, &prevHash, ptr(chainhash.DoubleHashH(txHashes)), 0x207fffff, s.nonce)
	header.Timestamp = time.Unix(1700000000+height*600, 0)
	hash := header.BlockHash().String()

	block := &Block{Hash: hash, Height: height}
	for _, msgTx := range all {
		tx := FromMsgTx(msgTx)
		tx.BlockHash = hash
		block.Txs = append(block.Txs, tx)
		s.txBlock[tx.TxID] = hash
		s.txs[tx.TxID] = msgTx
	}

	s.blocks[hash] = block
	if height > 0 {
		s.prev[hash] = s.mainChain[height-1]
	}
	s.mainChain = append(s.mainChain, hash)
	return block
}

func (s *SimChain) onMainChain(hash string) bool {
	b, ok := s.blocks[hash]
	if !ok || b.Height >= int64(len(s.mainChain)) {
		return false
	}
	return s.mainChain[b.Height] == hash
}

func (s *SimChain) GetLatestBlockHeight() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.mainChain) - 1), nil
}

func (s *SimChain) GetBlockHash(height int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if height < 0 || height >= int64(len(s.mainChain)) {
		return "", fmt.Errorf("block height out of range: %d", height)
	}
	return s.mainChain[height], nil
}

func (s *SimChain) GetBlockHeader(blockHash string) (*BlockHeader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[blockHash]
	if !ok {
		return nil, ErrUnknownBlock
	}
	return &BlockHeader{Hash: b.Hash, Height: b.Height, PrevHash: s.prev[blockHash]}, nil
}

func (s *SimChain) GetBlockWithTransactions(blockHash string) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetBlockCalls++
	b, ok := s.blocks[blockHash]
	if !ok {
		return nil, ErrUnknownBlock
	}
	return b, nil
}

// GetTransaction reports zero confirmations for txs only present in orphaned blocks.
func (s *SimChain) GetTransaction(txID string) (*Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgTx, ok := s.txs[txID]
	if !ok {
		return nil, nil
	}
	tx := FromMsgTx(msgTx)
	blockHash := s.txBlock[txID]
	if s.onMainChain(blockHash) {
		tx.BlockHash = blockHash
		tx.Confirmations = int64(len(s.mainChain)) - s.blocks[blockHash].Height
	}
	return tx, nil
}

func coinbaseTx(height int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	script, _ := txscript.NewScriptBuilder().AddInt64(height).AddInt64(0).Script()
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), script, nil))
	tx.AddTxOut(wire.NewTxOut(50*btcutil.SatoshiPerBitcoin, []byte{txscript.OP_TRUE}))
	return tx
}

// NewSimTx builds a tx spending ins (as "txid:vout" pairs) into outs.
func NewSimTx(ins []TxIn, outs []TxOut) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range ins {
		h, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(h, in.Vout), nil, nil))
	}
	for _, out := range outs {
		script, err := hex.DecodeString(out.ScriptPubKeyHex)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(out.Value, script))
	}
	return tx, nil
}

// RandomP2WPKHScript returns the hex output script of a fresh regtest P2WPKH address.
func RandomP2WPKHScript() (string, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return "", err
	}
	pkHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, &chaincfg.RegressionNetParams)
	if err != nil {
		return "", err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(script), nil
}

func ptr[T any](v T) *T {
	return &v
}
