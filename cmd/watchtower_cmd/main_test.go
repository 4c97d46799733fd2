package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareConfigFromFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	file := filepath.Join(t.TempDir(), "watchtower.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
BTC_RPC_SERVER: 10.0.0.2
BTC_CHAIN_CONFIG: testnet
PRUNING_FACTOR: 50
POLL_INTERVAL: 2s
MESSENGER_URL: ws://relay:9000/ws
`), 0o600))

	setDefaults()
	viper.SetConfigFile(file)
	require.NoError(t, viper.ReadInConfig())

	wsc := PrepareWatchtowerServerConfig()
	assert.Equal(t, "10.0.0.2", wsc.BtcRpcServer)
	assert.Equal(t, "18443", wsc.BtcRpcPort)
	assert.Equal(t, &chaincfg.TestNet3Params, wsc.BtcChainConfig)
	assert.Equal(t, int64(50), wsc.PruningFactor)
	assert.Equal(t, 2*time.Second, wsc.PollInterval)
	assert.Equal(t, "ws://relay:9000/ws", wsc.MessengerUrl)
	assert.Equal(t, "8080", wsc.HttpPort)
}

func TestPrepareConfigEnvOverride(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("BTC_CHAIN_CONFIG", "bogus")

	viper.AutomaticEnv()
	setDefaults()

	wsc := PrepareWatchtowerServerConfig()
	assert.Equal(t, "9999", wsc.HttpPort)
	assert.Equal(t, &chaincfg.RegressionNetParams, wsc.BtcChainConfig)
	assert.Equal(t, "watchtower.db", wsc.DbFilePath)
}
