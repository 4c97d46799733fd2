package rpc

// Flattened view of bitcoin data as consumed by the watchtower.
// Values are in satoshis, scripts are lowercase hex.

type TxOut struct {
	N               uint32
	Value           int64
	ScriptPubKeyHex string
}

type TxIn struct {
	TxID string // previous tx id
	Vout uint32 // previous output index
}

type Tx struct {
	TxID          string
	Hex           string // raw serialized tx, empty when unknown
	Outs          []TxOut
	Ins           []TxIn
	BlockHash     string
	Confirmations int64
}

type Block struct {
	Hash   string
	Height int64
	Txs    []*Tx
}

type BlockHeader struct {
	Hash     string
	Height   int64
	PrevHash string
}

// BitcoinRpc is what the index and the orchestrators need from a bitcoin node.
// Implemented by RpcClient (bitcoind) and SimChain (tests).
type BitcoinRpc interface {
	GetBlockHash(height int64) (string, error)
	GetBlockHeader(blockHash string) (*BlockHeader, error)
	GetBlockWithTransactions(blockHash string) (*Block, error)
	// GetTransaction returns nil, nil when the node does not know the tx.
	GetTransaction(txID string) (*Tx, error)
}
