package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shurlinet/lightnet/internal/config"
	"github.com/shurlinet/lightnet/pkg/netservice"
	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configFlag := fs.String("config", "", "path to config file")
	fakeFlag := fs.Bool("fake", false, "drive the coordinator against an in-memory chainnet.Fake instead of a real chain network (the only Network implementation this repo ships; see DESIGN.md \"C2 — chainnet package\")")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			osExit(0)
			return
		}
		osExit(1)
		return
	}

	if !*fakeFlag {
		fmt.Fprintln(os.Stderr, "Error: lightnetd ships no production chainnet.Network implementation (spec §1 Non-goal); pass --fake to run against the in-memory test double")
		osExit(1)
		return
	}

	if err := doRun(*configFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doRun(configFlag string) error {
	path, err := config.FindConfigFile(configFlag)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := slog.Default()
	log.Info("starting lightnetd", "version", version, "config", path)

	net := chainnet.NewFake()
	for _, c := range cfg.Chains {
		genesis, err := decodeHash32(c.GenesisBlockHash)
		if err != nil {
			return fmt.Errorf("chains: %s: %w", c.LogName, err)
		}
		var best chainnet.BestBlock
		if c.BestBlockHash != "" {
			bestHash, err := decodeHash32(c.BestBlockHash)
			if err != nil {
				return fmt.Errorf("chains: %s: %w", c.LogName, err)
			}
			best = chainnet.BestBlock{Number: c.BestBlockNumber, Hash: bestHash}
		}
		id := net.AddChain(chainnet.ChainConfig{
			LogName:          c.LogName,
			NumOutSlots:      c.NumOutSlots,
			GenesisBlockHash: genesis,
			BestBlock:        best,
			ForkID:           c.ForkID,
			BlockNumberBytes: c.BlockNumberBytes,
		})
		log.Info("registered chain", "log_name", c.LogName, "chain_id", id, "num_out_slots", c.NumOutSlots)
	}

	platform := chainnet.NewFakePlatform(time.Now(), time.Now().UnixNano())

	svcCfg := netservice.Config{
		IdentifyAgentVersion:    cfg.Service.IdentifyAgentVersion,
		NumEventReceivers:       cfg.Service.NumEventReceivers,
		MaxAddressesPerPeer:     cfg.Service.MaxAddressesPerPeer,
		DialRatePerMinute:       cfg.Service.DialRatePerMinute,
		ConnectionSendWarnAfter: cfg.Service.ConnectionSendWarnAfter,
		HandshakeTimeout:        cfg.Service.HandshakeTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, subs := netservice.NewService(ctx, net, platform, svcCfg, log)

	for i, sub := range subs {
		go logEvents(log, i, sub)
	}

	var metricsServer *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		addr := cfg.Telemetry.Metrics.ListenAddress
		if addr == "" {
			addr = "127.0.0.1:9092"
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", svc.Metrics())
		metricsServer = &http.Server{Addr: addr, Handler: mux}
		go func() {
			log.Info("serving metrics", "addr", addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", "err", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	return svc.Close()
}

// logEvents drains one Service event subscription to the log, so "lightnetd
// run --fake" is observable without a downstream consumer wired up.
func logEvents(log *slog.Logger, subIdx int, sub <-chan netservice.Event) {
	for ev := range sub {
		switch e := ev.(type) {
		case netservice.ConnectedEvent:
			log.Info("peer connected", "sub", subIdx, "chain", e.Chain, "peer", e.Peer, "role", e.Role)
		case netservice.DisconnectedEvent:
			log.Info("peer disconnected", "sub", subIdx, "chain", e.Chain, "peer", e.Peer)
		case netservice.BlockAnnounceEvent:
			log.Info("block announce", "sub", subIdx, "chain", e.Chain, "peer", e.Peer)
		case netservice.GrandpaNeighborPacketEvent:
			log.Info("grandpa neighbor", "sub", subIdx, "chain", e.Chain, "peer", e.Peer, "finalized", e.FinalizedBlockHeight)
		case netservice.GrandpaCommitMessageEvent:
			log.Info("grandpa commit", "sub", subIdx, "chain", e.Chain, "peer", e.Peer)
		default:
			log.Info("event", "sub", subIdx, "type", fmt.Sprintf("%T", e))
		}
	}
}

func decodeHash32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("invalid hash %q: want 32 bytes, got %d", s, len(b))
	}
	copy(out[:], b)
	return out, nil
}
