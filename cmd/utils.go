package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/watchtower-go/agreement"
	btcrpc "github.com/TEENet-io/watchtower-go/btcman/rpc"
)

// fileExists checks if a file exists and is readable
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// Shared Helper function. Create a btc rpc client.
func SetupBtcRpc(server string, port string, username string, password string) (*btcrpc.RpcClient, error) {
	_config := btcrpc.RpcClientConfig{
		ServerAddr: server,
		Port:       port,
		Username:   username,
		Pwd:        password,
	}
	r, err := btcrpc.NewRpcClient(&_config)
	if err != nil {
		logger.WithError(err).Errorf("failed to create btc rpc client %s:%s", server, port)
		return nil, err
	}
	return r, nil
}

// CheckNetwork fails if the node's genesis block is not the one of params.
func CheckNetwork(r TipReader, params *chaincfg.Params) error {
	genesis, err := r.GetBlockHash(0)
	if err != nil {
		return err
	}
	if genesis != params.GenesisHash.String() {
		return fmt.Errorf("btc node is not on %s: genesis %s", params.Name, genesis)
	}
	return nil
}

type TipReader interface {
	GetLatestBlockHeight() (int64, error)
	GetBlockHash(height int64) (string, error)
}

// NodeRelay reports the btc node's best block as the relay tip.
type NodeRelay struct {
	Rpc TipReader
}

func (n *NodeRelay) RetrieveLatestKnownBlockLog(ctx context.Context) (*agreement.BlockLog, error) {
	height, err := n.Rpc.GetLatestBlockHeight()
	if err != nil {
		return nil, err
	}
	hash, err := n.Rpc.GetBlockHash(height)
	if err != nil {
		return nil, err
	}
	return &agreement.BlockLog{Height: height, Hash: hash}, nil
}
