package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wrgeorge1983/tom/pkg/auth"
	"github.com/wrgeorge1983/tom/pkg/cache"
	"github.com/wrgeorge1983/tom/pkg/config"
	"github.com/wrgeorge1983/tom/pkg/controller"
	"github.com/wrgeorge1983/tom/pkg/credential"
	"github.com/wrgeorge1983/tom/pkg/gate"
	"github.com/wrgeorge1983/tom/pkg/inventory"
	"github.com/wrgeorge1983/tom/pkg/log"
	"github.com/wrgeorge1983/tom/pkg/parser"
	"github.com/wrgeorge1983/tom/pkg/queue"
	"github.com/wrgeorge1983/tom/pkg/redisconn"
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
	Use:     "tom-controller",
	Short:   "Tom controller - HTTP API for network device automation",
	Version: Version,
	RunE:    runController,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("tom-controller %s (%s)\n", Version, Commit))

	rootCmd.Flags().String("config", "", "Path to controller config file (YAML)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(func() {})
}

func runController(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	cfg, err := config.LoadController(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: logJSON})
	logger := log.WithComponent("controller-main")

	rdb := redisconn.New(cfg.RedisConfig)
	if c, ok := rdb.(io.Closer); ok {
		defer c.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		return fmt.Errorf("connecting to redis at %s: %w", cfg.RedisConfig.Addr(), err)
	}
	cancel()

	q := queue.New(rdb)
	ch := cache.New(rdb, time.Duration(cfg.CacheDefaultTTL)*time.Second, time.Duration(cfg.CacheMaxTTL)*time.Second)
	p := parser.NewDispatcher(cfg.CustomTemplateDir, cfg.BuiltinTemplateDir)
	g := gate.New(rdb, time.Duration(cfg.LeaseTTLS)*time.Second)

	inv, err := newInventory(cfg)
	if err != nil {
		return fmt.Errorf("loading inventory: %w", err)
	}

	cred, err := newCredentialPlugin(cfg.CredentialPlugin, cfg.CredentialPath)
	if err != nil {
		return fmt.Errorf("loading credential plugin: %w", err)
	}

	authn, err := auth.New(cfg)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}

	ctl := controller.New(cfg, q, ch, p, inv, cred, authn, g)

	sup := queue.NewSupervisor(q, 60*time.Second)
	supCtx, supCancel := context.WithCancel(context.Background())
	sup.Start(supCtx)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: ctl.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("controller listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
	}

	sup.Stop()
	supCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown did not complete cleanly")
	}

	logger.Info().Msg("controller stopped")
	return nil
}

func newInventory(cfg *config.Controller) (inventory.Plugin, error) {
	switch cfg.InventoryType {
	case "", "yaml":
		return inventory.NewFilePlugin(cfg.InventoryPath)
	default:
		return nil, fmt.Errorf("unknown inventory_type %q", cfg.InventoryType)
	}
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
