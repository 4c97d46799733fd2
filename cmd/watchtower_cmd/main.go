package main

import (
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/TEENet-io/watchtower-go/cmd"
	"github.com/TEENet-io/watchtower-go/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "WATCHTOWER_CONFIG"
)

func main() {
	app := &cli.App{
		Name:  "watchtower",
		Usage: "Claims escrows and spv vault withdrawals once their bitcoin transactions confirm",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "configuration file (yaml, json, toml or env)",
				EnvVars: []string{ENV_CONFIG_FILE_PATH},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, production or any logrus level",
				Value: "info",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if err := logconfig.ConfigFromString(c.String("log-level")); err != nil {
		return err
	}

	// Tool to read environment variables
	viper.AutomaticEnv()
	setDefaults()

	if configFile := c.String("config"); configFile != "" {
		fmt.Printf("Watchtower configuration file = %s\n", configFile)
		if !cmd.FileExists(configFile) {
			return fmt.Errorf("watchtower configuration file not found: %s", configFile)
		}
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file: %w", err)
		}
	}

	wsc := PrepareWatchtowerServerConfig()

	fmt.Println("Starting watchtower server... press Ctrl+C to kill the server")
	return cmd.StartWatchtowerServerAndWait(wsc)
}

func setDefaults() {
	viper.SetDefault("BTC_RPC_SERVER", "127.0.0.1")
	viper.SetDefault("BTC_RPC_PORT", "18443")
	viper.SetDefault("BTC_CHAIN_CONFIG", "regtest")
	viper.SetDefault("DB_FILE_PATH", "watchtower.db")
	viper.SetDefault("CHECKPOINT_FILE", "tipheight.txt")
	viper.SetDefault("PRUNING_FACTOR", 30)
	viper.SetDefault("POLL_INTERVAL", "5s")
	viper.SetDefault("HTTP_IP", "0.0.0.0")
	viper.SetDefault("HTTP_PORT", "8080")
}

// PrepareWatchtowerServerConfig reads configuration variables and returns a WatchtowerServerConfig.
func PrepareWatchtowerServerConfig() *cmd.WatchtowerServerConfig {
	// Parse the BTC chain config (e.g., "regtest", "testnet", or "mainnet").
	var btcParams *chaincfg.Params
	switch viper.GetString("BTC_CHAIN_CONFIG") {
	case "testnet":
		btcParams = &chaincfg.TestNet3Params
	case "mainnet":
		btcParams = &chaincfg.MainNetParams
	case "regtest":
		btcParams = &chaincfg.RegressionNetParams
	default:
		// default to regtest
		btcParams = &chaincfg.RegressionNetParams
	}

	return &cmd.WatchtowerServerConfig{
		// btc side
		BtcRpcServer:   viper.GetString("BTC_RPC_SERVER"),
		BtcRpcPort:     viper.GetString("BTC_RPC_PORT"),
		BtcRpcUsername: viper.GetString("BTC_RPC_USERNAME"),
		BtcRpcPwd:      viper.GetString("BTC_RPC_PWD"),
		BtcChainConfig: btcParams,
		// state side
		DbFilePath:     viper.GetString("DB_FILE_PATH"),
		CheckpointFile: viper.GetString("CHECKPOINT_FILE"),
		PruningFactor:  viper.GetInt64("PRUNING_FACTOR"),
		PollInterval:   viper.GetDuration("POLL_INTERVAL"),
		// smart chain side
		SignerPriv:   viper.GetString("SIGNER_PRIV"),
		MessengerUrl: viper.GetString("MESSENGER_URL"),
		// Http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),
	}
}
