package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyp-systems/fyp-core/internal/config"
	"github.com/fyp-systems/fyp-core/internal/event"
	"github.com/fyp-systems/fyp-core/internal/gitwt"
	"github.com/fyp-systems/fyp-core/internal/inbox"
	"github.com/fyp-systems/fyp-core/internal/logging"
	"github.com/fyp-systems/fyp-core/internal/orchestrator"
	"github.com/fyp-systems/fyp-core/internal/scaffold"
	"github.com/fyp-systems/fyp-core/internal/server"
	"github.com/fyp-systems/fyp-core/internal/store"
	"github.com/fyp-systems/fyp-core/internal/supervisor"
	"github.com/fyp-systems/fyp-core/internal/transcript"
)

var (
	serveAddr     string
	serveDir      string
	servePairCode bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Control Surface server",
	Long: `Start the orchestration control plane as a headless HTTP/SSE server,
wiring the Transcript Store, Attention Inbox, Session Supervisor,
Orchestration Engine, Command Router, and Control Surface together.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (default from config, or :8080)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory for config discovery")
	serveCmd.Flags().BoolVar(&servePairCode, "print-pairing-code", true, "Print a one-time pairing code on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return &configError{reason: fmt.Sprintf("preparing data directories: %v", err)}
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return &configError{reason: fmt.Sprintf("loading config: %v", err)}
	}
	if serveAddr != "" {
		appConfig.ListenAddr = serveAddr
	}
	if token != "" {
		appConfig.BearerToken = token
	}

	policy, err := config.LoadPolicy(paths.PolicyPath())
	if err != nil {
		logging.Warn().Err(err).Msg("failed to load policy file, using defaults")
		policy = config.DefaultPolicy()
	}

	bus := event.NewBus()
	storage := store.New(paths.StoragePath())

	ts, err := transcript.Open(paths.TranscriptDBPath())
	if err != nil {
		return fmt.Errorf("opening transcript store: %w", err)
	}
	defer ts.Close()

	ib := inbox.New(storage, nil, bus)
	ib.Events = ts
	sv := supervisor.New(ts, ib, storage, bus)
	ib.OnChange = func(sessionID string) {
		bus.Publish(event.Event{Kind: event.KindInboxChanged, Data: map[string]any{"sessionID": sessionID}})
	}

	// the Inbox's Deliverer is the Supervisor itself (pty key sequences,
	// hook-bridge decisions, and RPC replies all resolve back through it);
	// rewire it now that both exist.
	ib.SetDeliverer(sv)

	engine := orchestrator.New(orchestrator.Options{
		Sessions:     sv,
		Inbox:        ib,
		Storage:      storage,
		Bus:          bus,
		Transcript:   ts,
		Worktrees:    gitwt.New(),
		Scaffold:     scaffold.New(),
		AllowedRoots: []string{appConfig.WorktreeRoot, workDir},
		APIBaseURL:   fmt.Sprintf("http://127.0.0.1%s", appConfig.ListenAddr),
		APIToken:     appConfig.BearerToken,
	})
	engine.SetDefaultPolicy(policy.Sync, policy.Automation)
	// the Supervisor's directive/signal hooks resolve back into the
	// engine (coordinator directives, worker completion/question cues);
	// rewire them now that both exist, same as the Inbox's Deliverer above.
	sv.OnDirective = engine.HandleDirective
	sv.OnSignal = engine.OnWorkerSignal
	engine.Run(context.Background())
	defer engine.Stop()

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = appConfig.ListenAddr

	srv := server.New(srvCfg, server.Deps{
		Supervisor:   sv,
		Inbox:        ib,
		Transcript:   ts,
		Orchestrator: engine,
		Storage:      storage,
		Bus:          bus,
		AppConfig:    appConfig,
	})

	if servePairCode && appConfig.BearerToken != "" {
		code := srv.IssuePairingCode()
		fmt.Fprintf(os.Stderr, "Pairing code (valid 2m): %s\n", code)
	}

	go func() {
		logging.Info().Str("addr", appConfig.ListenAddr).Msg("Control Surface listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
