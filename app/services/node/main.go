package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CalfCrusher/Annalink/app/services/node/handlers"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/database/storage/disk"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/genesis"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/p2p"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/peer"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/signature"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/state"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/worker"
	"github.com/CalfCrusher/Annalink/foundation/events"
	"github.com/CalfCrusher/Annalink/foundation/logger"
	"github.com/ardanlabs/conf/v3"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
		}
		Node struct {
			P2PHost      string        `conf:"default:0.0.0.0:9080"`
			KnownPeers   []string      `conf:"default:"`
			SyncInterval time.Duration `conf:"default:15s"`
			MinerKeyPath string        `conf:"default:zblock/miner.ecdsa"`
			GenesisPath  string        `conf:"default:zblock/genesis.json"`
			DBPath       string        `conf:"default:zblock/chain.db"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	// Each network runs from one genesis document. Without one on disk the
	// node uses the built-in network settings.
	gen, err := genesis.Load(cfg.Node.GenesisPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("unable to load genesis file: %w", err)
		}
		gen = genesis.Default()
		log.Infow("startup", "status", "using default genesis settings", "chain", gen.ChainName)
	}

	// The private key file identifies the miner so the account can get
	// credited with the block rewards.
	privateKey, err := crypto.LoadECDSA(cfg.Node.MinerKeyPath)
	if err != nil {
		return fmt.Errorf("unable to load private key for node: %w", err)
	}

	minerAddress, err := signature.DeriveAddress(signature.PublicKeyString(&privateKey.PublicKey))
	if err != nil {
		return fmt.Errorf("unable to derive miner address: %w", err)
	}
	log.Infow("startup", "status", "miner address", "address", minerAddress)

	// The host identity this node advertises to its peers.
	host, err := peer.Parse(cfg.Node.P2PHost)
	if err != nil {
		return fmt.Errorf("parsing p2p host: %w", err)
	}

	// A peer set is a collection of known nodes in the network so transactions
	// and blocks can be shared.
	peerSet := peer.NewPeerSet()
	for _, hostPort := range cfg.Node.KnownPeers {
		p, err := peer.Parse(hostPort)
		if err != nil {
			return fmt.Errorf("parsing known peer %q: %w", hostPort, err)
		}
		peerSet.Add(p)
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// Blocks are persisted in LevelDB under the configured path.
	storage, err := disk.New(cfg.Node.DBPath)
	if err != nil {
		return fmt.Errorf("opening chain storage: %w", err)
	}

	// The state value represents the blockchain node and manages the chain
	// database and provides an API for application support.
	st, err := state.New(state.Config{
		MinerAddress: minerAddress,
		Host:         host,
		Genesis:      gen,
		Storage:      storage,
		KnownPeers:   peerSet,
		SyncInterval: cfg.Node.SyncInterval,
		EvHandler:    ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// The worker package implements the different workflows such as mining,
	// transaction peer sharing, and peer reconciliation. The worker will
	// register itself with the state.
	worker.Run(st, ev)

	// =========================================================================
	// Start P2P Service

	p2pSrv := p2p.NewServer(st, ev)
	go func() {
		if err := p2pSrv.Run(); err != nil {
			log.Errorw("shutdown", "status", "p2p server closed", "host", cfg.Node.P2PHost, "ERROR", err)
		}
	}()
	defer p2pSrv.Shutdown()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, handlers.DebugMux(build, log, st)); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Evts:     evts,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
