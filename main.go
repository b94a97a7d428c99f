// Copyright 2025 Certen Protocol
//
// zkpow-node entrypoint: configuration, component wiring and lifecycle.
// Commands: run (default), clean, update, experimental.
// Exit codes: 0 success, 1 configuration error, 2 I/O error, 3 consensus
// unrecoverable error.

package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/zkpow-node/pkg/config"
	"github.com/certen/zkpow-node/pkg/consensus"
	"github.com/certen/zkpow-node/pkg/crypto"
	"github.com/certen/zkpow-node/pkg/crypto/posw"
	"github.com/certen/zkpow-node/pkg/kvdb"
	"github.com/certen/zkpow-node/pkg/ledger"
	"github.com/certen/zkpow-node/pkg/mempool"
	"github.com/certen/zkpow-node/pkg/miner"
	"github.com/certen/zkpow-node/pkg/network"
	"github.com/certen/zkpow-node/pkg/server"
	"github.com/certen/zkpow-node/pkg/types"
)

const (
	exitSuccess        = 0
	exitConfigError    = 1
	exitIOError        = 2
	exitConsensusError = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	command := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("zkpow-node", flag.ContinueOnError)
	var (
		configPath   = fs.String("config", "", "path to YAML config file")
		ip           = fs.String("ip", "", "listen address")
		port         = fs.Int("port", 0, "peer listen port")
		connect      = fs.String("connect", "", "comma-separated bootstrap peers")
		minerOn      = fs.Bool("miner", false, "enable mining")
		minerAddress = fs.String("miner-address", "", "coinbase address (hex, 32 bytes)")
		networkName  = fs.String("network", "", "mainnet, testnet or devnet")
		dbPath       = fs.String("db", "", "database directory")
		rpcPort      = fs.Int("rpc-port", 0, "status API port")
		maxPeers     = fs.Int("max-peers", 0, "maximum peer count")
		minPeers     = fs.Int("min-peers", 0, "minimum peer count")
	)
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfigError
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ip":
			cfg.IP = *ip
		case "port":
			cfg.Port = *port
		case "connect":
			cfg.Connect = strings.Split(*connect, ",")
		case "miner":
			cfg.Miner = *minerOn
		case "miner-address":
			cfg.MinerAddress = *minerAddress
		case "network":
			cfg.Network = *networkName
		case "db":
			cfg.DBPath = *dbPath
		case "rpc-port":
			cfg.RPCPort = *rpcPort
		case "max-peers":
			cfg.MaxPeers = *maxPeers
		case "min-peers":
			cfg.MinPeers = *minPeers
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfigError
	}

	switch command {
	case "run":
		return runNode(cfg, false)
	case "experimental":
		// Experimental mode runs against an in-memory database.
		return runNode(cfg, true)
	case "clean":
		if err := os.RemoveAll(cfg.DBPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove %s: %v\n", cfg.DBPath, err)
			return exitIOError
		}
		fmt.Printf("removed database directory %s\n", cfg.DBPath)
		return exitSuccess
	case "update":
		fmt.Println("zkpow-node is built from source; pull the repository and reinstall to update")
		return exitSuccess
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		return exitConfigError
	}
}

// paramsForNetwork maps the configured network onto consensus parameters and
// applies devnet tuning overrides.
func paramsForNetwork(cfg *config.Config) consensus.Params {
	params := consensus.DefaultParams()
	switch cfg.Network {
	case "testnet":
		params.NetworkID = 1
	case "devnet":
		params.NetworkID = 2
		params.TargetBlockTime = 10
	}
	if cfg.MaxBlockSize > 0 {
		params.MaxBlockSize = cfg.MaxBlockSize
	}
	if cfg.TargetBlockTime > 0 {
		params.TargetBlockTime = cfg.TargetBlockTime
	}
	if cfg.OrphanLimit > 0 {
		params.OrphanLimit = cfg.OrphanLimit
	}
	if cfg.OrphanTTL > 0 {
		params.OrphanTTL = cfg.OrphanTTL
	}
	return params
}

func runNode(cfg *config.Config, inMemory bool) int {
	logger := log.New(log.Writer(), "[Node] ", log.LstdFlags)
	params := paramsForNetwork(cfg)

	// Storage engine.
	var kv *kvdb.KVAdapter
	if inMemory {
		kv = kvdb.NewMemoryKV()
	} else {
		var err error
		kv, err = kvdb.OpenGoLevelDB("chain", cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			return exitIOError
		}
	}
	defer kv.Close()

	store := ledger.NewStore(kv)
	records, err := ledger.BootstrapRecordLedger(store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap record ledger: %v\n", err)
		return exitIOError
	}

	// Crypto parameters. Missing parameters are fatal at startup.
	workProver, err := loadWorkProver(cfg.ParamsDir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load work circuit: %v\n", err)
		return exitConfigError
	}
	workVerifier, err := workProver.Verifier()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to derive work verifier: %v\n", err)
		return exitConfigError
	}

	outerProver := crypto.NewOuterProver()
	if err := outerProver.Setup(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up outer circuit: %v\n", err)
		return exitConfigError
	}
	outerVK, err := outerProver.VerifyingKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to export outer verification key: %v\n", err)
		return exitConfigError
	}

	cryptoCtx, err := crypto.NewContext(crypto.Options{
		AuthorizedInnerCircuitIDs: []types.Hash{params.InnerCircuitID},
		TransactionVerifier:       crypto.NewOuterVerifier(map[types.Hash]groth16.VerifyingKey{params.InnerCircuitID: outerVK}),
		WorkVerifier:              workVerifier,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build crypto context: %v\n", err)
		return exitConfigError
	}

	// Core components.
	registry := prometheus.NewRegistry()
	metrics := consensus.NewMetrics(registry)
	pool := mempool.NewPool(mempool.DefaultConfig(), records)

	engine, err := consensus.NewEngine(consensus.Config{
		Params:  params,
		Crypto:  cryptoCtx,
		Store:   store,
		Records: records,
		Pool:    pool,
		Prover:  outerProver,
		Metrics: metrics,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build consensus engine: %v\n", err)
		return exitConsensusError
	}
	if err := engine.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start consensus engine: %v\n", err)
		return exitConsensusError
	}
	defer engine.Stop()

	// Peer listener.
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.IP, cfg.Port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen on %s:%d: %v\n", cfg.IP, cfg.Port, err)
		return exitIOError
	}
	node := network.NewNode(engine, 0)
	go node.Serve(ln)
	logger.Printf("peer service listening on %s (network %s, max peers %d, min peers %d)",
		ln.Addr(), cfg.Network, cfg.MaxPeers, cfg.MinPeers)

	// Status API + metrics.
	mux := http.NewServeMux()
	server.NewHandlers(engine, cfg.Network).Register(mux, registry)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.IP, cfg.RPCPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("status server: %v", err)
		}
	}()
	logger.Printf("status API listening on %s", httpSrv.Addr)

	// Miner.
	if cfg.Miner {
		address, err := parseAddress(cfg.MinerAddress)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid miner address: %v\n", err)
			return exitConfigError
		}
		m := miner.New(engine, cryptoCtx, workProver, outerProver, nil, miner.DefaultConfig(address))
		m.Start()
		defer m.Stop()
		logger.Printf("miner enabled, paying to %s", cfg.MinerAddress)
	}

	// Run until interrupted.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("received %s, shutting down", sig)

	_ = httpSrv.Close()
	_ = ln.Close()
	node.Stop()
	return exitSuccess
}

// loadWorkProver loads the posw keys from the parameter directory, falling
// back to a fresh setup (persisted for the next start) when absent.
func loadWorkProver(paramsDir string, logger *log.Logger) (*posw.Prover, error) {
	csPath := filepath.Join(paramsDir, "posw.r1cs")
	pkPath := filepath.Join(paramsDir, "posw.pk")
	vkPath := filepath.Join(paramsDir, "posw.vk")

	prover := posw.NewProver()
	if fileExists(csPath) && fileExists(pkPath) && fileExists(vkPath) {
		if err := prover.LoadKeys(csPath, pkPath, vkPath); err != nil {
			return nil, err
		}
		return prover, nil
	}

	logger.Printf("posw parameters missing under %s, running one-time setup", paramsDir)
	if err := prover.Setup(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(paramsDir, 0o755); err == nil {
		if err := prover.SaveKeys(csPath, pkPath, vkPath); err != nil {
			logger.Printf("could not persist posw parameters: %v", err)
		}
	}
	return prover, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func parseAddress(s string) (types.Address, error) {
	var addr types.Address
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return addr, err
	}
	if len(raw) != types.AddressSize {
		return addr, fmt.Errorf("address must be %d bytes, got %d", types.AddressSize, len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}
