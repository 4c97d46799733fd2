package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	btcrpc "github.com/TEENet-io/watchtower-go/btcman/rpc"
)

func TestNodeRelayFollowsTip(t *testing.T) {
	sim := btcrpc.NewSimChain()
	relay := &NodeRelay{Rpc: sim}

	b := sim.MineTo(12)
	blockLog, err := relay.RetrieveLatestKnownBlockLog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), blockLog.Height)
	assert.Equal(t, b.Hash, blockLog.Hash)

	sim.Rewind(10)
	b = sim.Mine()
	blockLog, err = relay.RetrieveLatestKnownBlockLog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11), blockLog.Height)
	assert.Equal(t, b.Hash, blockLog.Hash)
}

func TestCheckNetwork(t *testing.T) {
	sim := btcrpc.NewSimChain()
	assert.Error(t, CheckNetwork(sim, &chaincfg.RegressionNetParams))

	genesis, err := sim.GetBlockHash(0)
	require.NoError(t, err)
	h, err := chainhash.NewHashFromStr(genesis)
	require.NoError(t, err)

	params := chaincfg.RegressionNetParams
	params.GenesisHash = h
	assert.NoError(t, CheckNetwork(sim, &params))
}

func TestFileExists(t *testing.T) {
	assert.False(t, FileExists(filepath.Join(t.TempDir(), "missing.yaml")))
}
