// Server = btc rpc + tx index + escrow/vault/hashlock watchtowers + claim submitter + http reporter.
// All components are configured via environment variables or a config file (strings!).

package cmd

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TEENet-io/watchtower-go/agreement"
	btcrpc "github.com/TEENet-io/watchtower-go/btcman/rpc"
	"github.com/TEENet-io/watchtower-go/contracts"
	"github.com/TEENet-io/watchtower-go/escrow"
	"github.com/TEENet-io/watchtower-go/hashlock"
	"github.com/TEENet-io/watchtower-go/messenger"
	"github.com/TEENet-io/watchtower-go/reporter"
	"github.com/TEENet-io/watchtower-go/signers"
	"github.com/TEENet-io/watchtower-go/spvvault"
	"github.com/TEENet-io/watchtower-go/storage"
	"github.com/TEENet-io/watchtower-go/watchtower"
)

const (
	// claim jobs waiting for the submitter
	CHANNEL_BUFFER_SIZE = 10
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type WatchtowerServerConfig struct {
	// btc side
	BtcRpcServer   string           // btc rpc server info
	BtcRpcPort     string           // btc rpc server info
	BtcRpcUsername string           // btc rpc server info
	BtcRpcPwd      string           // btc rpc server info
	BtcChainConfig *chaincfg.Params // regtest, testnet, mainnet? checked against the node's genesis block.

	// state side
	DbFilePath     string        // sqlite file holding swaps and vaults
	CheckpointFile string        // tx index tip height checkpoint
	PruningFactor  int64         // blocks kept in the tx index, 0 for default
	PollInterval   time.Duration // relay poll interval, 0 for default

	// smart chain side
	SignerPriv   string // hex private key of the claimer, empty for a random key
	MessengerUrl string // websocket relay of swap witnesses, empty for in-process only

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080
}

// WatchtowerServer holds the objects that consists of the watchtower server.
type WatchtowerServer struct {
	BtcRpcClient *btcrpc.RpcClient
	Chain        *contracts.SimSmartChain
	Signer       agreement.Signer

	Watchtower *watchtower.Watchtower
	Hashlock   *hashlock.Watchtower
	Submitter  *watchtower.Submitter
	Reporter   *reporter.HttpReporter
	Messenger  agreement.Messenger

	db   *sql.DB
	jobs chan watchtower.ClaimJob
}

// NewWatchtowerServer connects to the btc node and builds every component.
// Nothing runs until Start is called.
func NewWatchtowerServer(wsc *WatchtowerServerConfig) (*WatchtowerServer, error) {
	// 0) connect to btc network
	myBtcRpcClient, err := SetupBtcRpc(wsc.BtcRpcServer, wsc.BtcRpcPort, wsc.BtcRpcUsername, wsc.BtcRpcPwd)
	if err != nil {
		return nil, err
	}
	if wsc.BtcChainConfig != nil {
		if err := CheckNetwork(myBtcRpcClient, wsc.BtcChainConfig); err != nil {
			myBtcRpcClient.Close()
			return nil, err
		}
	}

	// 1) the smart chain side
	logger.Warn("no smart chain client configured, using the in-memory simulated chain")
	chain := contracts.NewSimSmartChain()

	var signer *signers.KeySigner
	if wsc.SignerPriv == "" {
		signer, err = signers.NewRandomKeySigner()
	} else {
		signer, err = signers.NewKeySigner(wsc.SignerPriv)
	}
	if err != nil {
		myBtcRpcClient.Close()
		return nil, err
	}
	logger.WithField("address", signer.GetAddress()).Info("claimer address")

	// 2) storage, one sqlite file with a namespace per component
	db, err := storage.Open(wsc.DbFilePath)
	if err != nil {
		myBtcRpcClient.Close()
		return nil, err
	}
	swapStore, err := storage.NewStore(db, "escrow", escrow.SavedSwapCodec(chain.DeserializeSwapData))
	if err != nil {
		return nil, closeAll(db, myBtcRpcClient, err)
	}
	vaultStore, err := storage.NewStore(db, "spvvault", spvvault.VaultCodec(chain.DeserializeVaultData))
	if err != nil {
		return nil, closeAll(db, myBtcRpcClient, err)
	}
	htlcStore, err := storage.NewStore(db, "hashlock", escrow.SavedSwapCodec(chain.DeserializeSwapData))
	if err != nil {
		return nil, closeAll(db, myBtcRpcClient, err)
	}

	// 3) watchtowers
	wt := watchtower.New(&watchtower.Config{
		BtcRpc:         myBtcRpcClient,
		Events:         chain,
		Relay:          &NodeRelay{Rpc: myBtcRpcClient},
		SwapContract:   chain,
		VaultContract:  chain,
		Signer:         signer,
		SwapStore:      swapStore,
		VaultStore:     vaultStore,
		PruningFactor:  wsc.PruningFactor,
		CheckpointFile: wsc.CheckpointFile,
		PollInterval:   wsc.PollInterval,
	})

	var msgr agreement.Messenger
	if wsc.MessengerUrl != "" {
		msgr = messenger.NewWsMessenger(wsc.MessengerUrl, chain.DeserializeSwapData)
	} else {
		logger.Warn("no messenger url configured, witnesses are only accepted in-process")
		msgr = messenger.NewLocal()
	}
	htl := hashlock.New(&hashlock.Config{
		Messenger: msgr,
		Events:    chain,
		Contract:  chain,
		Store:     htlcStore,
		Signer:    signer,
	})

	// 4) claim submission: publisher -> channel -> submitter
	jobs := make(chan watchtower.ClaimJob, CHANNEL_BUFFER_SIZE)
	wt.Publisher().RegisterClaimObserver(jobs)

	return &WatchtowerServer{
		BtcRpcClient: myBtcRpcClient,
		Chain:        chain,
		Signer:       signer,
		Watchtower:   wt,
		Hashlock:     htl,
		Submitter:    watchtower.NewSubmitter(wt, chain, signer),
		Reporter:     reporter.NewHttpReporter(wsc.HttpIp, wsc.HttpPort, wt, htl),
		Messenger:    msgr,
		db:           db,
		jobs:         jobs,
	}, nil
}

func closeAll(db *sql.DB, r *btcrpc.RpcClient, err error) error {
	db.Close()
	r.Close()
	return err
}

// Start initializes the watchtowers and runs every loop until ctx is
// cancelled or one of them fails.
func (s *WatchtowerServer) Start(ctx context.Context) error {
	defer s.db.Close()
	defer s.BtcRpcClient.Close()

	// hashlock listener must be registered before chain events start
	if err := s.Hashlock.Init(ctx); err != nil {
		return err
	}
	initial, err := s.Watchtower.Init(ctx)
	if err != nil {
		return err
	}
	logger.WithField("claimable", len(initial)).Info("watchtower initialized")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Submitter.Run(gctx, s.jobs)
	})
	g.Go(func() error {
		return s.Watchtower.Loop(gctx)
	})
	g.Go(func() error {
		return s.Reporter.Run(gctx)
	})
	g.Go(func() error {
		return s.Hashlock.SubscribeToMessages(gctx)
	})

	// the bundles found during Init go through the same submitter
	for id, b := range initial {
		select {
		case s.jobs <- watchtower.ClaimJob{ID: id, Bundle: b}:
		case <-gctx.Done():
			b.Release()
		}
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Create, then start the watchtower server and wait.
// Press Ctrl-C to kill the server.
func StartWatchtowerServerAndWait(wsc *WatchtowerServerConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := NewWatchtowerServer(wsc)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}
