package txindex

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/watchtower-go/btcman/rpc"
)

func newTestIndex(t *testing.T, sim *rpc.SimChain, p int64) (*Index, string) {
	file := filepath.Join(t.TempDir(), "tipheight.txt")
	return New(&Config{PruningFactor: p, CheckpointFile: file}, sim), file
}

func payTo(t *testing.T, value int64) (*wire.MsgTx, string) {
	script, err := rpc.RandomP2WPKHScript()
	require.NoError(t, err)
	tx, err := rpc.NewSimTx(nil, []rpc.TxOut{{Value: value, ScriptPubKeyHex: script}})
	require.NoError(t, err)
	txoHash, err := ToTxoHash(value, script)
	require.NoError(t, err)
	return tx, txoHash
}

func spend(t *testing.T, prevTxID string, vout uint32) *wire.MsgTx {
	tx, err := rpc.NewSimTx(
		[]rpc.TxIn{{TxID: prevTxID, Vout: vout}},
		[]rpc.TxOut{{Value: 1000, ScriptPubKeyHex: "51"}},
	)
	require.NoError(t, err)
	return tx
}

func watchTxos(hashes ...string) *Watch {
	w := &Watch{Txos: map[string]struct{}{}, Txins: map[string]struct{}{}}
	for _, h := range hashes {
		w.Txos[h] = struct{}{}
	}
	return w
}

func watchTxins(utxos ...string) *Watch {
	w := &Watch{Txos: map[string]struct{}{}, Txins: map[string]struct{}{}}
	for _, u := range utxos {
		w.Txins[u] = struct{}{}
	}
	return w
}

func TestToTxoHash(t *testing.T) {
	h, err := ToTxoHash(1, "00")
	assert.NoError(t, err)
	assert.Equal(t, "a536aa3cede6ea3c1f3e0357c3c60e0f216a8c89b853df13b29daa8f85065dfb", h)

	h, err = ToTxoHash(100000, "0014"+"1111111111111111111111111111111111111111")
	assert.NoError(t, err)
	assert.Equal(t, "57abe8e9be14f1683b3fbd1e21ee8e456611c499f9231ad53d7f8ef2e396426e", h)

	_, err = ToTxoHash(1, "zz")
	assert.Error(t, err)
}

func TestInitBackfillsWindowSilently(t *testing.T) {
	sim := rpc.NewSimChain()
	sim.MineTo(129)
	idx, file := newTestIndex(t, sim, 30)

	tip, err := idx.Init(129)
	require.NoError(t, err)
	assert.Equal(t, int64(129), tip)

	heights := idx.Heights()
	require.Len(t, heights, 30)
	assert.Equal(t, int64(100), heights[0])
	assert.Equal(t, int64(129), heights[29])

	_, err = os.Stat(file)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestInitNearGenesis(t *testing.T) {
	sim := rpc.NewSimChain()
	sim.MineTo(5)
	idx, _ := newTestIndex(t, sim, 30)

	_, err := idx.Init(5)
	require.NoError(t, err)
	assert.Len(t, idx.Heights(), 6)
}

func TestInitResumesFromNewerCheckpoint(t *testing.T) {
	sim := rpc.NewSimChain()
	sim.MineTo(150)
	idx, file := newTestIndex(t, sim, 10)
	require.NoError(t, os.WriteFile(file, []byte("140"), 0644))

	tip, err := idx.Init(130)
	require.NoError(t, err)
	assert.Equal(t, int64(140), tip)
	assert.Equal(t, int64(131), idx.Heights()[0])

	// an older checkpoint is ignored
	idx2, file2 := newTestIndex(t, sim, 10)
	require.NoError(t, os.WriteFile(file2, []byte("120"), 0644))
	tip, err = idx2.Init(145)
	require.NoError(t, err)
	assert.Equal(t, int64(145), tip)
}

func TestInitCorruptCheckpoint(t *testing.T) {
	sim := rpc.NewSimChain()
	sim.MineTo(10)
	idx, file := newTestIndex(t, sim, 5)
	require.NoError(t, os.WriteFile(file, []byte("abc"), 0644))

	_, err := idx.Init(10)
	assert.Error(t, err)
}

func TestAddBlockAdvancesTipAndPrunes(t *testing.T) {
	sim := rpc.NewSimChain()
	sim.MineTo(129)
	idx, file := newTestIndex(t, sim, 30)
	_, err := idx.Init(129)
	require.NoError(t, err)

	first := idx.BlockHashAt(100)
	assert.NotEmpty(t, first)

	b := sim.MineEmpty(1)
	_, err = idx.AddBlock(b.Hash, nil, nil, false)
	require.NoError(t, err)

	assert.Equal(t, int64(130), idx.TipHeight())
	assert.Empty(t, idx.BlockHashAt(100))
	assert.Len(t, idx.Heights(), 30)

	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "130", string(raw))
}

func TestSyncFindsWatchedOutput(t *testing.T) {
	sim := rpc.NewSimChain()
	sim.MineTo(50)
	idx, _ := newTestIndex(t, sim, 10)
	_, err := idx.Init(50)
	require.NoError(t, err)

	tx, txoHash := payTo(t, 12345)
	mined := sim.Mine(tx)
	tip := sim.MineEmpty(2)

	res, err := idx.SyncToTipHash(tip.Hash, watchTxos(txoHash))
	require.NoError(t, err)

	require.Contains(t, res.FoundTxos, txoHash)
	assert.Equal(t, TxoEntry{TxID: tx.TxHash().String(), Vout: 0, Height: mined.Height}, res.FoundTxos[txoHash])

	live, ok := idx.GetTxoObject(txoHash)
	assert.True(t, ok)
	assert.Equal(t, mined.Height, live.Height)
	assert.Equal(t, int64(53), idx.TipHeight())
}

func TestSyncStopsAtCommonAncestor(t *testing.T) {
	sim := rpc.NewSimChain()
	sim.MineTo(40)
	idx, _ := newTestIndex(t, sim, 10)
	_, err := idx.Init(40)
	require.NoError(t, err)

	tip := sim.MineEmpty(3)
	before := sim.GetBlockCalls
	_, err = idx.SyncToTipHash(tip.Hash, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, sim.GetBlockCalls-before)

	// same tip again only replays the tip block
	before = sim.GetBlockCalls
	_, err = idx.SyncToTipHash(tip.Hash, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sim.GetBlockCalls-before)
}

func TestSyncForkEvictsOrphanedEntries(t *testing.T) {
	sim := rpc.NewSimChain()
	sim.MineTo(124)
	tx, txoHash := payTo(t, 777)
	orphaned := sim.Mine(tx) // 125
	sim.MineTo(129)

	idx, _ := newTestIndex(t, sim, 30)
	_, err := idx.Init(129)
	require.NoError(t, err)
	_, ok := idx.GetTxoObject(txoHash)
	require.True(t, ok)

	sim.Rewind(124)
	newTip := sim.MineEmpty(6) // 125'..130'

	res, err := idx.SyncToTipHash(newTip.Hash, watchTxos(txoHash))
	require.NoError(t, err)
	assert.Empty(t, res.FoundTxos)

	_, ok = idx.GetTxoObject(txoHash)
	assert.False(t, ok)
	assert.NotEqual(t, orphaned.Hash, idx.BlockHashAt(125))

	heights := idx.Heights()
	assert.Equal(t, int64(101), heights[0])
	assert.Equal(t, int64(130), heights[len(heights)-1])
	assert.Len(t, heights, 30)
}

func TestSyncToShorterBranchDropsStaleHeights(t *testing.T) {
	sim := rpc.NewSimChain()
	sim.MineTo(30)
	idx, _ := newTestIndex(t, sim, 10)
	_, err := idx.Init(30)
	require.NoError(t, err)

	sim.Rewind(27)
	newTip := sim.MineEmpty(2) // 28', 29'

	_, err = idx.SyncToTipHash(newTip.Hash, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(29), idx.TipHeight())
	assert.Empty(t, idx.BlockHashAt(30))
	assert.Equal(t, newTip.Hash, idx.BlockHashAt(29))
}

func TestFoundResultsSurviveEvictionWithinSync(t *testing.T) {
	sim := rpc.NewSimChain()
	sim.MineTo(20)
	idx, _ := newTestIndex(t, sim, 3)
	_, err := idx.Init(20)
	require.NoError(t, err)

	tx, txoHash := payTo(t, 4242)
	sim.Mine(tx) // 21
	tip := sim.MineEmpty(5)

	res, err := idx.SyncToTipHash(tip.Hash, watchTxos(txoHash))
	require.NoError(t, err)
	assert.Contains(t, res.FoundTxos, txoHash)

	_, ok := idx.GetTxoObject(txoHash)
	assert.False(t, ok)
}

func TestSameBlockChainedSpends(t *testing.T) {
	sim := rpc.NewSimChain()
	sim.MineTo(10)
	vaultTx, _ := payTo(t, 100000)
	sim.Mine(vaultTx)
	idx, _ := newTestIndex(t, sim, 10)
	_, err := idx.Init(11)
	require.NoError(t, err)

	vaultUtxo := UtxoKey(vaultTx.TxHash().String(), 0)
	w1 := spend(t, vaultTx.TxHash().String(), 0)
	w2 := spend(t, w1.TxHash().String(), 0)
	w3 := spend(t, w2.TxHash().String(), 0)
	tip := sim.Mine(w1, w2, w3)

	res, err := idx.SyncToTipHash(tip.Hash, watchTxins(vaultUtxo))
	require.NoError(t, err)

	require.Len(t, res.FoundTxins, 3)
	assert.Equal(t, w1.TxHash().String(), res.FoundTxins[vaultUtxo].TxID)
	assert.Equal(t, w2.TxHash().String(), res.FoundTxins[UtxoKey(w1.TxHash().String(), 0)].TxID)
	assert.Equal(t, w3.TxHash().String(), res.FoundTxins[UtxoKey(w2.TxHash().String(), 0)].TxID)

	spender, ok := idx.GetTxinObject(vaultUtxo)
	assert.True(t, ok)
	assert.Equal(t, tip.Height, spender.Height)
}

func TestSyncErrors(t *testing.T) {
	sim := rpc.NewSimChain()
	sim.MineTo(10)
	idx, _ := newTestIndex(t, sim, 5)

	_, err := idx.SyncToTipHash(sim.Tip().Hash, nil)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = idx.Init(10)
	require.NoError(t, err)
	_, err = idx.SyncToTipHash("ffff", nil)
	assert.ErrorIs(t, err, rpc.ErrUnknownBlock)
}
