package watchtower

import (
	"context"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/watchtower-go/agreement"
	"github.com/TEENet-io/watchtower-go/btcman/rpc"
	"github.com/TEENet-io/watchtower-go/contracts"
	"github.com/TEENet-io/watchtower-go/escrow"
	"github.com/TEENet-io/watchtower-go/signers"
	"github.com/TEENet-io/watchtower-go/spvvault"
	"github.com/TEENet-io/watchtower-go/storage"
	"github.com/TEENet-io/watchtower-go/txindex"
)

type testEnv struct {
	ctx    context.Context
	btc    *rpc.SimChain
	chain  *contracts.SimSmartChain
	signer agreement.Signer
	wt     *Watchtower

	txoHash string
	payTxID string
}

// newTestEnv mines a 100000 sat payment at height 125 and the chain up to tip.
func newTestEnv(t *testing.T, tip int64) *testEnv {
	db, err := storage.Open(filepath.Join(t.TempDir(), "watchtower.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	swapStore, err := storage.NewStore(db, "escrow", escrow.SavedSwapCodec(contracts.DeserializeSwapData))
	require.NoError(t, err)
	vaultStore, err := storage.NewStore(db, "spvvault", spvvault.VaultCodec(contracts.DeserializeVaultData))
	require.NoError(t, err)
	signer, err := signers.NewRandomKeySigner()
	require.NoError(t, err)

	env := &testEnv{
		ctx:    context.Background(),
		btc:    rpc.NewSimChain(),
		chain:  contracts.NewSimSmartChain(),
		signer: signer,
	}

	script, err := rpc.RandomP2WPKHScript()
	require.NoError(t, err)
	env.txoHash, err = txindex.ToTxoHash(100000, script)
	require.NoError(t, err)
	payTx, err := rpc.NewSimTx(nil, []rpc.TxOut{{Value: 100000, ScriptPubKeyHex: script}})
	require.NoError(t, err)
	env.payTxID = payTx.TxHash().String()

	env.btc.MineTo(124)
	env.btc.Mine(payTx)
	env.mineTo(tip)

	env.wt = New(&Config{
		BtcRpc:         env.btc,
		Events:         env.chain,
		Relay:          env.chain,
		SwapContract:   env.chain,
		VaultContract:  env.chain,
		Signer:         signer,
		SwapStore:      swapStore,
		VaultStore:     vaultStore,
		PruningFactor:  30,
		CheckpointFile: filepath.Join(t.TempDir(), "tipheight.txt"),
		PollInterval:   10 * time.Millisecond,
	})
	return env
}

func (env *testEnv) mineTo(height int64) {
	b := env.btc.MineTo(height)
	env.chain.SetRelayTip(b.Height, b.Hash)
}

func (env *testEnv) createEscrow(escrowHash string, confirmations int64) {
	env.chain.CreateEscrow(&contracts.SimSwapData{
		EscrowHash:    escrowHash,
		Type:          agreement.SwapTypeChain,
		TxoHash:       env.txoHash,
		Confirmations: confirmations,
	})
}

func TestInitReturnsMaturedClaims(t *testing.T) {
	env := newTestEnv(t, 127)
	env.createEscrow("e1", 3)
	env.createEscrow("e2", 4)

	bundles, err := env.wt.Init(env.ctx)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	require.Contains(t, bundles, "e1")

	txs, err := bundles["e1"].GetTxs(env.ctx, 127, true)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	st := env.wt.Status()
	assert.Equal(t, int64(127), st.TipHeight)
	assert.Equal(t, env.btc.Tip().Hash, st.TipHash)
	assert.Equal(t, 30, st.IndexedBlocks)
	assert.Equal(t, 2, st.Swaps)
	assert.Equal(t, 1, st.WatchedTxos)
}

func TestMaturityBoundaryAndConcurrentSyncs(t *testing.T) {
	env := newTestEnv(t, 126)
	env.createEscrow("e1", 3)

	bundles, err := env.wt.Init(env.ctx)
	require.NoError(t, err)
	assert.Empty(t, bundles)

	env.mineTo(127)
	tip := env.btc.Tip().Hash

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			found, err := env.wt.SyncToTipHash(env.ctx, tip, nil)
			assert.NoError(t, err)
			mu.Lock()
			total += len(found)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, total)
	builds, _, _ := env.chain.Counters()
	assert.Equal(t, 1, builds)
}

func TestLoopPublishesAndSubmitterClaims(t *testing.T) {
	env := newTestEnv(t, 125)
	env.createEscrow("e1", 3)

	jobs := make(chan ClaimJob, 4)
	env.wt.Publisher().RegisterClaimObserver(jobs)
	_, err := env.wt.Init(env.ctx)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(env.ctx)
	defer cancel()
	go env.wt.Loop(ctx)
	go NewSubmitter(env.wt, env.chain, env.signer).Run(ctx, jobs)

	env.mineTo(127)
	require.Eventually(t, func() bool { return env.chain.SentCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	sent := env.chain.Sent[0][0].(*contracts.SimClaimTx)
	assert.Equal(t, "e1", sent.EscrowHash)
	assert.Equal(t, env.payTxID, sent.BtcTxID)

	// the escrow is gone on chain, the next sync drops it
	env.mineTo(128)
	require.Eventually(t, func() bool { return env.wt.Status().Swaps == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSubmitterMarksRevertedClaim(t *testing.T) {
	env := newTestEnv(t, 127)
	env.createEscrow("e1", 3)
	bundles, err := env.wt.Init(env.ctx)
	require.NoError(t, err)
	require.Contains(t, bundles, "e1")

	env.chain.RevertSends = true
	_, err = NewSubmitter(env.wt, env.chain, env.signer).Submit(env.ctx, "e1", bundles["e1"])
	assert.True(t, agreement.IsRevertedError(err))

	swaps := env.wt.Escrows().Swaps()
	require.Len(t, swaps, 1)
	assert.True(t, swaps[0].ClaimAttemptFailed())

	env.chain.RevertSends = false
	env.mineTo(128)
	found, err := env.wt.SyncToTipHash(env.ctx, env.btc.Tip().Hash, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSubmitterSkipsUnclaimableBundle(t *testing.T) {
	env := newTestEnv(t, 127)
	env.createEscrow("e1", 3)
	bundles, err := env.wt.Init(env.ctx)
	require.NoError(t, err)
	require.Contains(t, bundles, "e1")

	env.chain.Uncommit("e1")
	txID, err := NewSubmitter(env.wt, env.chain, env.signer).Submit(env.ctx, "e1", bundles["e1"])
	require.NoError(t, err)
	assert.Empty(t, txID)
	assert.Equal(t, 0, env.chain.SentCount())
	assert.False(t, env.wt.Escrows().Swaps()[0].IsLocked())
}

func TestVaultWithdrawalsClaimedEndToEnd(t *testing.T) {
	env := newTestEnv(t, 127)
	fund, err := rpc.NewSimTx(nil, []rpc.TxOut{{Value: 10000, ScriptPubKeyHex: "51"}})
	require.NoError(t, err)
	fundID := fund.TxHash().String()
	env.btc.Mine(fund)
	env.mineTo(130)

	env.chain.OpenVault(&contracts.SimVault{
		Owner:         "bob",
		ID:            big.NewInt(7),
		Utxo:          txindex.UtxoKey(fundID, 0),
		Confirmations: 1,
		Balance:       10000,
	})
	_, err = env.wt.Init(env.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, env.wt.Status().Vaults)

	w1, err := rpc.NewSimTx([]rpc.TxIn{{TxID: fundID, Vout: 0}}, []rpc.TxOut{{Value: 9000, ScriptPubKeyHex: "51"}, {Value: 1000, ScriptPubKeyHex: "52"}})
	require.NoError(t, err)
	w2, err := rpc.NewSimTx([]rpc.TxIn{{TxID: w1.TxHash().String(), Vout: 0}}, []rpc.TxOut{{Value: 8000, ScriptPubKeyHex: "51"}, {Value: 1000, ScriptPubKeyHex: "52"}})
	require.NoError(t, err)
	env.btc.Mine(w1, w2)
	env.mineTo(131)

	found, err := env.wt.SyncToTipHash(env.ctx, env.btc.Tip().Hash, nil)
	require.NoError(t, err)
	key := agreement.VaultIdentifier("bob", big.NewInt(7))
	require.Contains(t, found, key)

	txID, err := NewSubmitter(env.wt, env.chain, env.signer).Submit(env.ctx, key, found[key])
	require.NoError(t, err)
	assert.NotEmpty(t, txID)

	v, err := env.chain.GetVaultData(env.ctx, "bob", big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, txindex.UtxoKey(w2.TxHash().String(), 0), v.GetUtxo())
}

type countingBundle struct {
	released int
}

func (b *countingBundle) GetTxs(ctx context.Context, targetHeight int64, checkClaimable bool) ([]agreement.Tx, error) {
	return nil, nil
}

func (b *countingBundle) Release() { b.released++ }

func TestPublishReleasesUndeliveredBundles(t *testing.T) {
	env := newTestEnv(t, 125)

	// nobody listening
	idle := &countingBundle{}
	env.wt.publish(map[string]agreement.ClaimBundle{"e1": idle})
	assert.Equal(t, 1, idle.released)

	// observer queue full and never drained
	jobs := make(chan ClaimJob, 1)
	env.wt.Publisher().RegisterClaimObserver(jobs)
	first, second := &countingBundle{}, &countingBundle{}
	env.wt.publish(map[string]agreement.ClaimBundle{"e1": first})
	env.wt.publish(map[string]agreement.ClaimBundle{"e2": second})

	assert.Equal(t, 0, first.released)
	assert.Equal(t, 1, second.released)
	require.Len(t, jobs, 1)
	assert.Equal(t, "e1", (<-jobs).ID)
}
