package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	vigil "github.com/ardelia/vigil"
	"github.com/ardelia/vigil/internal/auth"
	"github.com/ardelia/vigil/internal/config"
	"github.com/ardelia/vigil/internal/web"
	"github.com/ardelia/vigil/memory"
	"github.com/ardelia/vigil/observer"
	"github.com/ardelia/vigil/persona"
	"github.com/ardelia/vigil/provider/resolve"
	"github.com/ardelia/vigil/skills"
	"github.com/ardelia/vigil/stealth"
	"github.com/ardelia/vigil/tools"
)

func main() {
	projectDir := flag.String("dir", ".", "project directory (config.yaml, .env, data/)")
	host := flag.String("host", "", "bind address (overrides config.yaml)")
	port := flag.Int("port", 0, "console port (overrides config.yaml)")
	flag.Parse()

	if err := run(*projectDir, *host, *port); err != nil {
		fmt.Fprintln(os.Stderr, "vigil:", err)
		os.Exit(1)
	}
}

func run(projectDir, hostFlag string, portFlag int) error {
	projectDir, err := filepath.Abs(projectDir)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfgMgr := config.NewManager(projectDir)
	cfgMgr.LoadEnv()
	cfg, err := cfgMgr.Load()
	if err != nil {
		logger.Warn("config file unreadable, using defaults", "error", err)
	}
	if hostFlag != "" {
		cfg.Web.Host = hostFlag
	}
	if portFlag != 0 {
		cfg.Web.Port = portFlag
	}

	dataDir := filepath.Join(projectDir, "data")
	mem, err := memory.NewManager(dataDir, logger)
	if err != nil {
		return err
	}
	authMgr, err := auth.NewManager(dataDir)
	if err != nil {
		return err
	}
	personas := persona.New(filepath.Join(projectDir, "prompts"))
	skillStore := skills.New(filepath.Join(projectDir, "skills"))
	bus := vigil.NewBus(logger)
	scheduler := vigil.NewScheduler(mem, mem, bus, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional OTEL telemetry. The run-config builder picks the
	// instruments up when present.
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		instruments, shutdown, err := observer.Init(ctx)
		if err != nil {
			logger.Warn("telemetry init failed, continuing without", "error", err)
		} else {
			inst = instruments
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = shutdown(shutdownCtx)
			}()
		}
	}

	// buildRunConfig re-reads settings so start/restart pick up edits
	// made through the console.
	buildRunConfig := func() (vigil.RunConfig, error) {
		cfg, err := cfgMgr.Load()
		if err != nil {
			return vigil.RunConfig{}, err
		}

		provider, err := resolve.Provider(cfg.Agent.Model)
		if err != nil {
			return vigil.RunConfig{}, err
		}
		auditorModel := cfg.Agent.AuditorModel
		if auditorModel == "" {
			auditorModel = cfg.Agent.Model
		}
		auditor, err := resolve.Provider(auditorModel)
		if err != nil {
			return vigil.RunConfig{}, err
		}
		if inst != nil {
			provider = observer.Provider(provider, inst)
			auditor = observer.Provider(auditor, inst)
		}

		if _, err := vigil.EnsureWakeupNote(cfg.Agent.Home); err != nil {
			logger.Warn("wake-up note", "error", err)
		}

		pipeline := memory.NewPipeline(mem, auditor, provider, logger)

		var skillLister vigil.SkillLister
		if cfg.Agent.EnableSkills {
			skillLister = skillStore
		}

		newExecutor := func() vigil.ToolExecutor {
			st := stealth.New(stealth.Config{
				ProjectDir: projectDir,
				PID:        os.Getpid(),
				Host:       stealth.Detect(cfg.Web.Port),
			})
			var executor vigil.ToolExecutor = tools.New(tools.Config{
				AgentHome:       cfg.Agent.Home,
				ShellTimeout:    cfg.Agent.ShellTimeout,
				MaxOutput:       cfg.Agent.MaxOutputChars,
				EnableSkills:    cfg.Agent.EnableSkills,
				EnableCommunity: cfg.Community.URL != "",
				CommunityURL:    cfg.Community.URL,
				CommunityKey:    cfg.Community.Key,
			}, st, skillStore, logger)
			if inst != nil {
				executor = observer.Executor(executor, inst)
			}
			return executor
		}

		return vigil.RunConfig{
			Provider:    provider,
			Memory:      pipeline,
			NewExecutor: newExecutor,
			Context: &vigil.ContextBuilder{
				Memory:        pipeline,
				Persona:       personas,
				Skills:        skillLister,
				PersonaName:   cfg.Agent.Persona,
				AgentHome:     cfg.Agent.Home,
				HistoryRounds: cfg.Agent.HistoryRounds,
			},
			Interval:     time.Duration(cfg.Agent.Interval) * time.Second,
			MaxToolCalls: cfg.Agent.MaxToolCalls,
		}, nil
	}

	console := web.New(scheduler, bus, mem, authMgr, cfgMgr, personas, buildRunConfig, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := &http.Server{Addr: addr, Handler: console.Handler()}

	go func() {
		<-ctx.Done()
		scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("console listening", "addr", addr, "project", projectDir)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
