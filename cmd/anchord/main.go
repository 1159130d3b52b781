// anchord - tamper-evident audit trail daemon for industrial events.
//
//	anchord init          Write a default config and generate a signing key
//	anchord run           Run the daemon (default)
//	anchord version       Print version
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"anchord/internal/batch"
	"anchord/internal/compliance"
	"anchord/internal/config"
	"anchord/internal/event"
	"anchord/internal/health"
	"anchord/internal/ledger"
	"anchord/internal/logging"
	"anchord/internal/metrics"
	"anchord/internal/schema"
	"anchord/internal/server"
	"anchord/internal/store"
)

var version = "dev"

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "init":
		cmdInit(args)
	case "run":
		cmdRun(args)
	case "version":
		fmt.Printf("anchord %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`anchord - tamper-evident audit trail for industrial events

USAGE:
    anchord <command> [options]

COMMANDS:
    init        Write a default config file and generate an Ed25519 signing key
    run         Run the daemon (default when no command is given)
    version     Print version
    help        Show this help message

Events are canonicalized, hashed, and signed at ingestion, accumulated
into batches by size or age, and each batch's Merkle root is anchored to
an external ledger. Inclusion proofs and compliance reports are served
over the admin API.`)
}

func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", config.ConfigPath(), "config file path")
	fs.Parse(args)

	cfg, created, err := config.LoadOrCreate(*configPath)
	if err != nil {
		fatal("init config: %v", err)
	}
	if created {
		fmt.Printf("Wrote default config to %s\n", *configPath)
	} else {
		fmt.Printf("Config already present at %s\n", *configPath)
	}

	keyPath := cfg.Signing.KeyPath
	if keyPath == "" {
		keyPath = filepath.Join(filepath.Dir(*configPath), "signing_key")
	}
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		fmt.Println("Generating Ed25519 signing key...")
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			fatal("generate key: %v", err)
		}
		if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
			fatal("create key dir: %v", err)
		}
		if err := os.WriteFile(keyPath, priv, 0o600); err != nil {
			fatal("save private key: %v", err)
		}
		if err := os.WriteFile(keyPath+".pub", pub, 0o644); err != nil {
			fatal("save public key: %v", err)
		}
		fmt.Printf("  Key: %s\n", keyPath)
		fmt.Printf("  Public key: %s...\n", hex.EncodeToString(pub[:8]))

		if cfg.Signing.KeyPath == "" {
			cfg.Signing.KeyPath = keyPath
			cfg.Signing.PublicKeyPath = keyPath + ".pub"
			if err := config.SaveConfig(cfg, *configPath); err != nil {
				fatal("update config: %v", err)
			}
		}
	} else {
		fmt.Printf("Signing key already present at %s\n", keyPath)
	}

	fmt.Println()
	fmt.Println("anchord initialized. Start the daemon with: anchord run")
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", config.ConfigPath(), "config file path")
	fs.Parse(args)

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		fatal("load config: %v", err)
	}
	defer loader.Close()

	log, logCloser, err := logging.New(logging.Config{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
	})
	if err != nil {
		fatal("init logging: %v", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	log.Info("anchord starting", "version", version, "config", *configPath)

	registry := metrics.NewRegistry("anchord")
	pipeline := metrics.NewPipeline(registry)

	st, err := openStore(cfg)
	if err != nil {
		fatal("open store: %v", err)
	}
	defer st.Close()

	signer, err := buildSigner(cfg, log)
	if err != nil {
		fatal("init signer: %v", err)
	}

	ledgerClient, err := buildLedger(cfg)
	if err != nil {
		fatal("init ledger: %v", err)
	}

	validator, err := schema.NewValidator()
	if err != nil {
		fatal("compile payload schemas: %v", err)
	}

	acc := batch.NewAccumulator(batch.Limits{
		MaxBatchSize: cfg.Batch.MaxBatchSize,
		MinBatchSize: cfg.Batch.MinBatchSize,
		MaxBatchAge:  cfg.Batch.MaxBatchAge(),
		MaxPending:   cfg.Batch.MaxPending,
		Enabled:      cfg.Batch.Enabled,
	})

	manager := batch.NewManager(batch.ManagerConfig{
		AnchorTimeout: cfg.Batch.AnchorTimeout(),
		Workers:       cfg.Batch.Workers,
	}, acc, ledgerClient, st, log, pipeline)

	if err := resumeUnanchored(context.Background(), st, manager, log); err != nil {
		log.Warn("resume unanchored batches", "error", err)
	}
	manager.Start()

	verifier := compliance.NewVerifier(st, signer, compliance.Config{
		ClockSkew: cfg.Compliance.ClockSkew(),
		Retention: cfg.Compliance.Retention(),
	})

	checker := health.NewChecker()
	checker.RegisterFunc("store", true, health.StoreCheck(func(ctx context.Context) error {
		_, err := st.RecentBatches(ctx, 1)
		return err
	}))
	checker.RegisterFunc("anchoring", false, health.AnchorBacklogCheck(func() int {
		return manager.Stats().FailedBatches
	}, 5))

	svc := server.NewService(signer, validator, st, manager, pipeline, log)
	apiHandler := server.New(&server.Handler{
		Service:  svc,
		Manager:  manager,
		Verifier: verifier,
	}, checker, registry, log)

	httpServer := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiHandler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	// Accumulator limits are the only hot-reloadable settings; everything
	// else requires a restart.
	loader.OnChange(func(newCfg *config.Config) {
		acc.SetLimits(batch.Limits{
			MaxBatchSize: newCfg.Batch.MaxBatchSize,
			MinBatchSize: newCfg.Batch.MinBatchSize,
			MaxBatchAge:  newCfg.Batch.MaxBatchAge(),
			MaxPending:   newCfg.Batch.MaxPending,
			Enabled:      newCfg.Batch.Enabled,
		})
		log.Info("accumulator limits reloaded")
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config watch unavailable", "error", err)
	}
	go func() {
		for err := range loader.Errors() {
			log.Warn("config reload", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("admin API listening", "addr", cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	checker.SetReady(true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Error("admin API failed", "error", err)
	}

	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}

	// Final forced flush: buffered events become one last batch and get an
	// anchoring attempt before exit.
	manager.Stop(shutdownCtx)
	log.Info("anchord stopped")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		return store.NewMemory(), nil
	default:
		return store.Open(cfg.Storage.Path)
	}
}

// buildSigner resolves key material per the signing config. A missing key
// yields an ephemeral one: signatures remain valid within the process
// lifetime but cannot be re-verified after restart, hence the warning.
func buildSigner(cfg *config.Config, log *slog.Logger) (event.Signer, error) {
	switch cfg.Signing.Scheme {
	case "hmac-sha256":
		if cfg.Signing.HMACKeyHex == "" {
			log.Warn("no HMAC key configured, using an ephemeral key")
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return nil, err
			}
			return event.NewHMACSigner(key)
		}
		key, err := hex.DecodeString(cfg.Signing.HMACKeyHex)
		if err != nil {
			return nil, fmt.Errorf("decode hmac key: %w", err)
		}
		return event.NewHMACSigner(key)
	default:
		if cfg.Signing.KeyPath == "" {
			log.Warn("no signing key configured, generating an ephemeral one")
			_, priv, err := ed25519.GenerateKey(nil)
			if err != nil {
				return nil, err
			}
			return event.NewEd25519Signer(priv)
		}
		priv, err := event.LoadEd25519PrivateKey(cfg.Signing.KeyPath)
		if err != nil {
			return nil, err
		}
		return event.NewEd25519Signer(priv)
	}
}

func buildLedger(cfg *config.Config) (ledger.Client, error) {
	switch cfg.Ledger.Type {
	case "evm":
		return ledger.NewEVMClient(ledger.EVMConfig{
			Endpoints: cfg.Ledger.Endpoints,
			Method:    cfg.Ledger.Method,
			Timeout:   cfg.Ledger.Timeout(),
		})
	default:
		return ledger.NewMemoryLedger(), nil
	}
}

// resumeUnanchored reloads batches that were PENDING or FAILED at the last
// shutdown so their anchoring obligation is carried forward.
func resumeUnanchored(ctx context.Context, st store.Store, m *batch.Manager, log *slog.Logger) error {
	for _, status := range []batch.Status{batch.StatusPending, batch.StatusFailed, batch.StatusAnchoring} {
		batches, err := st.BatchesByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, b := range batches {
			// A batch stuck in ANCHORING means the process died mid-call;
			// it is retried as if it had failed.
			if b.Status == batch.StatusAnchoring {
				b.Status = batch.StatusFailed
			}
			m.Adopt(b)
			log.Info("resumed batch", "batch", b.ID, "status", b.Status)
		}
	}
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "anchord: "+format+"\n", args...)
	os.Exit(1)
}
