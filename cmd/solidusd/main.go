// Command solidusd runs a full chain-ingestion node: it opens the local
// block store, bootstraps genesis, joins the gossip network, and keeps the
// canonical chain synchronized with peers.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	appconfig "solidus/cmd/config"
	"solidus/core"
	"solidus/pkg/utils"
)

func main() {
	logger := log.New()

	appconfig.LoadConfig(utils.EnvOrDefault("SYNN_ENV", ""))
	cfg := appconfig.AppConfig

	if lvl, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(lvl)
	}

	store, err := core.OpenBlockStore(cfg.Storage.DBPath, logger)
	if err != nil {
		logger.Fatalf("open block store: %v", err)
	}
	defer store.Close()

	stateDBPath := cfg.Storage.StateDBPath
	if stateDBPath == "" {
		stateDBPath = "data/statedb"
	}
	stateStore, err := core.OpenPebbleKVStore(stateDBPath)
	if err != nil {
		logger.Fatalf("open state store: %v", err)
	}
	defer stateStore.Close()
	core.SetCurrentStore(stateStore)

	genesisPath := cfg.Network.GenesisFile
	if genesisPath == "" {
		genesisPath = "cmd/config/genesis.json"
	}
	doc, err := core.LoadGenesisFile(genesisPath)
	if err != nil {
		logger.Fatalf("load genesis: %v", err)
	}
	chainCfg, err := doc.Bootstrap(store)
	if err != nil {
		logger.Fatalf("bootstrap genesis: %v", err)
	}

	events := core.NewEventBus()
	core.RegisterRewardSubscriber(events, chainCfg)

	query := core.NewChainQuery(store)
	orphans := core.NewOrphanBuffer()
	validator := core.NewBlockValidator(chainCfg, core.NewDoubleSHA256PowVerifier(), nil)
	reorg := core.NewReorgEngine(store, events, chainCfg)
	ingestion := core.NewBlockIngestion(store, query, orphans, validator, reorg, logger)
	responder := core.NewSyncResponder(query, store)

	netNode, err := core.NewNetworkNode(core.NetworkConfig{
		ListenAddr:     cfg.Network.ListenAddr,
		BootstrapPeers: cfg.Network.BootstrapPeers,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
	}, logger)
	if err != nil {
		logger.Fatalf("start network node: %v", err)
	}
	netNode.AttachResponder(responder)

	syncMgr := core.NewSyncManager(store, query, chainCfg, validator, reorg, ingestion, orphans, netNode, logger)
	netNode.AttachSyncManager(syncMgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweepStop := make(chan struct{})
	orphans.RunSweeper(core.OrphanSweepInterval, sweepStop)

	go syncMgr.Run(ctx)

	var metricsSrv *http.Server
	if cfg.Network.MetricsAddr != "" {
		monitor := core.NewHealthMonitor(store, netNode, logger)
		metricsSrv = monitor.StartServer(cfg.Network.MetricsAddr)
		go monitor.Run(ctx, 15*time.Second)
	}

	logger.Printf("solidusd listening on %s (network %s, chain %d)", cfg.Network.ListenAddr, chainCfg.NetworkID, chainCfg.ChainID)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	logger.Println("shutting down")
	syncMgr.Stop()
	close(sweepStop)
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	cancel()
}
