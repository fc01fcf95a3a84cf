package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/consortia/blockchain/app/services/node/handlers"
	"github.com/consortia/blockchain/foundation/blockchain/chain"
	"github.com/consortia/blockchain/foundation/blockchain/chain/storage/disk"
	"github.com/consortia/blockchain/foundation/blockchain/chain/storage/memory"
	"github.com/consortia/blockchain/foundation/blockchain/contract"
	"github.com/consortia/blockchain/foundation/blockchain/executor"
	"github.com/consortia/blockchain/foundation/blockchain/genesis"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/consortia/blockchain/foundation/blockchain/state"
	transportmemory "github.com/consortia/blockchain/foundation/blockchain/transport/memory"
	"github.com/consortia/blockchain/foundation/blockchain/worker"
	"github.com/consortia/blockchain/foundation/events"
	"github.com/consortia/blockchain/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in
// the makefile.
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
			WriteTimeout    time.Duration `conf:"default:30s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		Node struct {
			KeyFile      string        `conf:"default:zblock/node.key"`
			GenesisFile  string        `conf:"default:zblock/genesis.json"`
			DBPath       string        `conf:"default:zblock/pools"`
			InMemory     bool          `conf:"default:false"`
			ExecutorHost string        `conf:"default:0.0.0.0:9090"`
			StageTimeout time.Duration `conf:"default:2s"`
			RoundTimeout time.Duration `conf:"default:10s"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

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

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Node identity

	priv, err := loadPrivateKey(cfg.Node.KeyFile)
	if err != nil {
		return fmt.Errorf("unable to load node key: %w", err)
	}
	var self pool.PublicKey
	copy(self[:], priv.Public().(ed25519.PublicKey))

	// =========================================================================
	// Blockchain Support

	gen, err := genesis.Load(cfg.Node.GenesisFile)
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}

	var storage chain.Storage
	switch {
	case cfg.Node.InMemory:
		storage, err = memory.New()
	default:
		storage, err = disk.New(cfg.Node.DBPath)
	}
	if err != nil {
		return fmt.Errorf("unable to open storage: %w", err)
	}

	// The blockchain packages accept a function of this signature to allow
	// the application to log. These raw messages also reach any websocket
	// client connected through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// The wire transport and peer gossip live outside this service. The
	// in-process bus covers a single-binary cluster; swapping it out is a
	// construction-time decision.
	bus := transportmemory.NewBus()

	var exec contract.Executor
	if cfg.Node.ExecutorHost != "" {
		exec = executor.New(cfg.Node.ExecutorHost)
	}

	st, err := state.New(state.Config{
		Self:         self,
		PrivateKey:   priv,
		Genesis:      gen,
		Storage:      storage,
		Trans:        bus.Join(self),
		Executor:     exec,
		StageTimeout: cfg.Node.StageTimeout,
		RoundTimeout: cfg.Node.RoundTimeout,
		EvHandler:    ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// The worker package implements the round driver and the tracker scan.
	// The worker will register itself with the state.
	worker.Run(st, ev)

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, handlers.DebugMux(build, log)); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Evts:     evts,
	})

	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
	})

	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}

// loadPrivateKey reads a hex encoded ed25519 seed from disk.
func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(content)))
	if err != nil {
		return nil, fmt.Errorf("decoding key file: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file must hold a %d byte hex seed", ed25519.SeedSize)
	}

	return ed25519.NewKeyFromSeed(seed), nil
}
