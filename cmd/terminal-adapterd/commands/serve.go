package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talos-sh/terminal-adapter/internal/anchorsink"
	"github.com/talos-sh/terminal-adapter/internal/approval"
	"github.com/talos-sh/terminal-adapter/internal/classifier"
	"github.com/talos-sh/terminal-adapter/internal/config"
	"github.com/talos-sh/terminal-adapter/internal/dispatcher"
	"github.com/talos-sh/terminal-adapter/internal/logging"
	"github.com/talos-sh/terminal-adapter/internal/manifest"
	"github.com/talos-sh/terminal-adapter/internal/ptyexec"
	"github.com/talos-sh/terminal-adapter/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatcher",
	Long: `Start the terminal adapter as a server that exposes the execute,
list-sessions, write-input, anchor-session, and abort operations over HTTP.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Info().
		Str("version", Version).
		Str("project_root", cfg.ProjectRoot).
		Str("env", cfg.Env).
		Msg("starting terminal adapter")

	policyManifest, verified, err := manifest.Verified(cfg.PolicyManifest, manifest.StubVerifier{})
	if err != nil {
		return err
	}

	paranoid := cfg.PolicyManifest != "" && !verified
	if paranoid {
		logging.Warn().Str("manifest", cfg.PolicyManifest).Msg("manifest failed verification, entering paranoid mode")
		policyManifest = nil
	}

	c, err := classifier.NewClassifier(policyManifest, paranoid)
	if err != nil {
		return err
	}

	sink := anchorSinkFromConfig(cfg)
	sessions := session.NewManager(cfg.ProjectRoot, cfg.WALDir, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessions.StartAnchorLoop(ctx)
	defer sessions.StopAnchorLoop()

	pty := ptyexec.NewExecutor()
	broker := approvalBrokerFromConfig(cfg)

	srv := dispatcher.New(dispatcher.Config{
		Port:        cfg.Port,
		ProjectRoot: cfg.ProjectRoot,
		AgentID:     cfg.AgentID,
		IsDev:       cfg.IsDev(),
		EnableCORS:  true,
	}, c, sessions, pty, broker)

	if cfg.PolicyManifest != "" {
		watcher, err := manifest.NewWatcher(cfg.PolicyManifest, manifest.StubVerifier{}, func(m *classifier.PolicyManifest, ok bool) {
			if !ok {
				logging.Warn().Msg("reloaded manifest failed verification, keeping prior classifier")
				return
			}
			reloaded, err := classifier.NewClassifier(m, false)
			if err != nil {
				logging.Error().Err(err).Msg("failed to rebuild classifier from reloaded manifest")
				return
			}
			srv.SetClassifier(reloaded)
		})
		if err != nil {
			return err
		}
		if watcher != nil {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("dispatcher error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("dispatcher shutdown error")
	}

	logging.Info().Msg("stopped")
	return nil
}

func anchorSinkFromConfig(cfg config.Config) session.AnchorSink {
	if cfg.AnchorSinkURL == "" {
		return anchorsink.NoopSink{}
	}
	return anchorsink.NewHTTPSink(cfg.AnchorSinkURL)
}

func approvalBrokerFromConfig(cfg config.Config) approval.Broker {
	if cfg.TGAURL == "" {
		return approval.NoopBroker{}
	}
	return approval.NewHTTPBroker(cfg.TGAURL, cfg.AgentID)
}
