package rpc

import (
	"bytes"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common/lru"
)

const (
	HEADER_CACHE_SIZE = 256
)

type RpcClientConfig struct {
	ServerAddr string // ip address of server
	Port       string // port of server
	Username   string
	Pwd        string
}

// Wrapper of btc rpc client.
type RpcClient struct {
	ServerAddr string // ip address of server
	Port       string // port of server
	Username   string
	Pwd        string
	client     *rpcclient.Client

	// headers never change for a given hash, the sync walk asks for the same ones repeatedly.
	headers *lru.Cache[string, *BlockHeader]
}

// Create a new RPC client which
// contains several useful functions
// to interact with bitcoin node.
func NewRpcClient(rcc *RpcClientConfig) (*RpcClient, error) {
	// Connect to Bitcoin node using HTTP
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         rcc.ServerAddr + ":" + rcc.Port,
		User:         rcc.Username,
		Pass:         rcc.Pwd,
		HTTPPostMode: true, // original bitcoin only supports HTTP POST mode
		DisableTLS:   true, // original bitcoin does not support TLS
	}, nil)

	if err != nil {
		return nil, err
	}

	return &RpcClient{
		ServerAddr: rcc.ServerAddr,
		Port:       rcc.Port,
		Username:   rcc.Username,
		Pwd:        rcc.Pwd,
		client:     client,
		headers:    lru.NewCache[string, *BlockHeader](HEADER_CACHE_SIZE),
	}, nil
}

// Close the rpc client
func (r *RpcClient) Close() {
	r.client.Shutdown()
}

// Get the latest block height.
func (r *RpcClient) GetLatestBlockHeight() (int64, error) {
	return r.client.GetBlockCount()
}

// Get the hash of the main-chain block at height.
func (r *RpcClient) GetBlockHash(height int64) (string, error) {
	hash, err := r.client.GetBlockHash(height)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// Get height and previous hash of a block.
func (r *RpcClient) GetBlockHeader(blockHash string) (*BlockHeader, error) {
	if h, ok := r.headers.Get(blockHash); ok {
		return h, nil
	}

	hash, err := chainhash.NewHashFromStr(blockHash)
	if err != nil {
		return nil, err
	}
	verbose, err := r.client.GetBlockHeaderVerbose(hash)
	if err != nil {
		return nil, err
	}

	header := &BlockHeader{
		Hash:     verbose.Hash,
		Height:   int64(verbose.Height),
		PrevHash: verbose.PreviousHash,
	}
	r.headers.Add(blockHash, header)
	return header, nil
}

// Fetch a full block and flatten its transactions.
// Coinbase inputs are dropped, they spend nothing.
func (r *RpcClient) GetBlockWithTransactions(blockHash string) (*Block, error) {
	header, err := r.GetBlockHeader(blockHash)
	if err != nil {
		return nil, err
	}

	hash, err := chainhash.NewHashFromStr(blockHash)
	if err != nil {
		return nil, err
	}
	msgBlock, err := r.client.GetBlock(hash)
	if err != nil {
		return nil, err
	}

	block := &Block{
		Hash:   header.Hash,
		Height: header.Height,
		Txs:    make([]*Tx, 0, len(msgBlock.Transactions)),
	}
	for _, msgTx := range msgBlock.Transactions {
		tx := FromMsgTx(msgTx)
		tx.BlockHash = header.Hash
		block.Txs = append(block.Txs, tx)
	}
	return block, nil
}

// Fetch a tx with a given TxID.
// Enable -txindex on your bitcoin node before using this function.
// Returns nil, nil if the node does not know the tx.
func (r *RpcClient) GetTransaction(txID string) (*Tx, error) {
	txHash, err := chainhash.NewHashFromStr(txID)
	if err != nil {
		return nil, err
	}
	verbose, err := r.client.GetRawTransactionVerbose(txHash)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo {
			return nil, nil
		}
		return nil, err
	}

	raw, err := hex.DecodeString(verbose.Hex)
	if err != nil {
		return nil, err
	}
	msgTx := wire.NewMsgTx(wire.TxVersion)
	if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}

	tx := FromMsgTx(msgTx)
	tx.Hex = verbose.Hex
	tx.BlockHash = verbose.BlockHash
	tx.Confirmations = int64(verbose.Confirmations)
	return tx, nil
}

// FromMsgTx flattens a wire tx. Coinbase inputs are skipped.
func FromMsgTx(msgTx *wire.MsgTx) *Tx {
	tx := &Tx{
		TxID: msgTx.TxHash().String(),
		Outs: make([]TxOut, 0, len(msgTx.TxOut)),
	}
	for i, out := range msgTx.TxOut {
		tx.Outs = append(tx.Outs, TxOut{
			N:               uint32(i),
			Value:           out.Value,
			ScriptPubKeyHex: hex.EncodeToString(out.PkScript),
		})
	}
	if blockchain.IsCoinBaseTx(msgTx) {
		return tx
	}
	for _, in := range msgTx.TxIn {
		tx.Ins = append(tx.Ins, TxIn{
			TxID: in.PreviousOutPoint.Hash.String(),
			Vout: in.PreviousOutPoint.Index,
		})
	}
	return tx
}
