package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wrgeorge1983/tom/pkg/cache"
	"github.com/wrgeorge1983/tom/pkg/config"
	"github.com/wrgeorge1983/tom/pkg/credential"
	"github.com/wrgeorge1983/tom/pkg/gate"
	"github.com/wrgeorge1983/tom/pkg/log"
	"github.com/wrgeorge1983/tom/pkg/queue"
	"github.com/wrgeorge1983/tom/pkg/redisconn"
	"github.com/wrgeorge1983/tom/pkg/transport"
	"github.com/wrgeorge1983/tom/pkg/worker"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tom-worker",
	Short:   "Tom worker - executes queued device commands over SSH",
	Version: Version,
	RunE:    runWorker,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("tom-worker %s (%s)\n", Version, Commit))

	rootCmd.Flags().String("config", "", "Path to worker config file (YAML)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().Int("max-concurrent-jobs", 0, "Override max concurrent jobs (0 = worker default of 4)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	maxConcurrentOverride, _ := cmd.Flags().GetInt("max-concurrent-jobs")

	cfg, err := config.LoadWorker(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: logJSON})
	logger := log.WithComponent("worker-main")

	rdb := redisconn.New(cfg.RedisConfig)
	if c, ok := rdb.(io.Closer); ok {
		defer c.Close()
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		return fmt.Errorf("connecting to redis at %s: %w", cfg.RedisConfig.Addr(), err)
	}
	pingCancel()

	q := queue.New(rdb)
	q.WorkerLiveness = time.Duration(cfg.WorkerLivenessS) * time.Second
	g := gate.New(rdb, time.Duration(cfg.LeaseTTLS)*time.Second)
	ch := cache.New(rdb, time.Duration(cfg.CacheDefaultTTL)*time.Second, time.Duration(cfg.CacheMaxTTL)*time.Second)
	tr := transport.NewRegistry()

	cred, err := newCredentialPlugin(cfg.CredentialPlugin, cfg.CredentialPath)
	if err != nil {
		return fmt.Errorf("loading credential plugin: %w", err)
	}

	wCfg := worker.Config{
		ConsumerID:        cfg.ConsumerID,
		MaxConcurrentJobs: maxConcurrentOverride,
		ShutdownGrace:     time.Duration(cfg.ShutdownGraceS) * time.Second,
	}

	w := worker.New(wCfg, q, g, ch, tr, cred)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(runDone)
	}()

	logger.Info().Msg("worker running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh
	logger.Info().Msg("shutdown signal received")

	w.Stop()
	<-runDone
	cancel()

	logger.Info().Msg("worker stopped")
	return nil
}

func newCredentialPlugin(kind, path string) (credential.Plugin, error) {
	switch kind {
	case "", "yaml", "file":
		passphrase := os.Getenv("TOM_CREDENTIAL_PASSPHRASE")
		return credential.NewFilePlugin(path, passphrase)
	case "env":
		return credential.NewEnvPlugin(), nil
	default:
		return nil, fmt.Errorf("unknown credential_plugin %q", kind)
	}
}
