package vigil

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
)

// RunConfig is the per-start configuration: everything that may change
// between a stop and the next start (model, tools, pacing).
type RunConfig struct {
	Provider     Provider
	Memory       Memory              // full pipeline, including auditor models
	NewExecutor  func() ToolExecutor // fresh executor per round
	Context      *ContextBuilder
	Interval     time.Duration
	MaxToolCalls int
}

// restartJoinTimeout bounds how long Restart waits for the previous
// worker to finish its round.
const restartJoinTimeout = 120 * time.Second

// Scheduler drives the activation loop: one worker goroutine runs
// rounds sequentially, everything else observes through Status and the
// bus. It is the sole owner of RunState.
type Scheduler struct {
	store  Store
	runLog RunLog
	bus    *Bus
	logger *slog.Logger

	mu     sync.Mutex
	state  RunState
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler creates an idle scheduler.
func NewScheduler(store Store, runLog RunLog, bus *Bus, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		store:  store,
		runLog: runLog,
		bus:    bus,
		logger: logger,
		state:  RunState{State: StateIdle},
	}
}

// Start launches the activation loop. Fails with ErrAlreadyRunning when
// a loop is active or still stopping; returns as soon as the worker is
// launched.
func (s *Scheduler) Start(cfg RunConfig) error {
	if cfg.Provider == nil || cfg.Memory == nil || cfg.NewExecutor == nil || cfg.Context == nil {
		return fmt.Errorf("scheduler: incomplete run config")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 20
	}

	s.mu.Lock()
	switch s.state.State {
	case StateRunning, StateWaiting, StateStopping:
		st := s.state.State
		s.mu.Unlock()
		return &ErrAlreadyRunning{State: st}
	}
	if s.doneCh != nil {
		select {
		case <-s.doneCh:
		default:
			s.mu.Unlock()
			return &ErrAlreadyRunning{State: StateStopping}
		}
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s.stopCh = stopCh
	s.doneCh = doneCh
	s.state = RunState{
		State:     StateRunning,
		StartTime: time.Now().UTC().Format(time.RFC3339),
	}
	s.mu.Unlock()

	go s.run(cfg, stopCh, doneCh)
	s.bus.Status(StateRunning, "Agent started")
	return nil
}

// Stop requests a graceful stop. The worker finishes its current round
// first. Idempotent; returns immediately.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	switch s.state.State {
	case StateRunning, StateWaiting:
		s.state.State = StateStopping
		close(s.stopCh)
		s.mu.Unlock()
		s.bus.Status(StateStopping, "Stop requested, agent will stop after the current round")
	default:
		s.mu.Unlock()
	}
}

// Restart stops the loop, waits for the worker to exit (bounded), and
// starts again with the new configuration.
func (s *Scheduler) Restart(cfg RunConfig) error {
	s.Stop()

	s.mu.Lock()
	done := s.doneCh
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-time.After(restartJoinTimeout):
			return fmt.Errorf("scheduler: previous run did not stop within %s", restartJoinTimeout)
		}
	}
	return s.Start(cfg)
}

// Status returns a copy of the current run state.
func (s *Scheduler) Status() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Inspire stores a one-shot operator message for the agent's next round.
func (s *Scheduler) Inspire(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("scheduler: empty inspiration")
	}
	if err := s.store.WriteInspiration(text); err != nil {
		return fmt.Errorf("scheduler: write inspiration: %w", err)
	}
	s.bus.Log(fmt.Sprintf("[INSPIRATION] %s", firstLines(text, 1)))
	return nil
}

// run is the worker loop. It owns all RunState mutation while active.
func (s *Scheduler) run(cfg RunConfig, stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	ctx := context.Background()
	round := s.store.LastRound()
	fatal := false

	for {
		if stopped(stopCh) {
			break
		}
		round++

		s.setState(func(st *RunState) {
			st.State = StateRunning
			st.CurrentRound = round
		})
		s.bus.Round(round, "started", nil)
		s.runLog.RoundSeparator(round)

		executor := cfg.NewExecutor()
		messages := cfg.Context.Build(round, cfg.MaxToolCalls, executor.Definitions())

		start := time.Now()
		res := runRound(ctx, roundConfig{
			provider: cfg.Provider,
			executor: executor,
			bus:      s.bus,
			runLog:   s.runLog,
			limit:    cfg.MaxToolCalls,
			stop:     stopCh,
			logger:   s.logger,
		}, messages)
		elapsed := time.Since(start).Seconds()

		if res.Err != "" {
			s.logger.Warn("round ended on model error", "round", round, "error", res.Err)
			s.bus.Log(fmt.Sprintf("[ERROR] Round %d: %s", round, res.Err))
		}

		entry := TimelineEntry{
			Round:     round,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			ToolsUsed: res.ToolsUsed,
			Duration:  math.Round(elapsed*10) / 10,
			Summary:   res.Summary,
			ActionLog: res.ActionLog,
		}
		if err := cfg.Memory.AppendTimeline(entry); err != nil {
			// Best-effort durable: the next round's counter still comes
			// from the last successful append.
			s.logger.Error("timeline append failed", "round", round, "error", err)
			s.bus.Log(fmt.Sprintf("[ERROR] timeline append failed: %v", err))
		}

		if err := cfg.Memory.UpdateSnapshot(ctx, entry, FinalOutput(res.Summary)); err != nil {
			s.logger.Error("snapshot update failed, stopping loop", "round", round, "error", err)
			s.runLog.Printf("[FATAL] snapshot update failed: %v", err)
			s.setState(func(st *RunState) { st.State = StateError })
			s.bus.Status(StateError, err.Error())
			fatal = true
			break
		}

		s.setState(func(st *RunState) {
			st.TotalRounds++
			st.LastRoundTools = res.ToolsUsed
			st.LastRoundSummary = FinalOutput(res.Summary)
		})
		s.bus.Round(round, "completed", map[string]any{
			"tools":   res.ToolsUsed,
			"elapsed": entry.Duration,
		})
		s.runLog.Printf("[DONE] Tools: %d | Time: %.1fs", res.ToolsUsed, elapsed)

		if stopped(stopCh) {
			break
		}
		s.setState(func(st *RunState) { st.State = StateWaiting })
		s.bus.Status(StateWaiting, fmt.Sprintf("Next activation in %s", cfg.Interval))

		timer := time.NewTimer(cfg.Interval)
		select {
		case <-stopCh:
			timer.Stop()
		case <-timer.C:
		}
	}

	if !fatal {
		s.setState(func(st *RunState) { st.State = StateIdle })
		s.bus.Status(StateIdle, "Agent stopped")
	}
}

func (s *Scheduler) setState(mutate func(*RunState)) {
	s.mu.Lock()
	mutate(&s.state)
	s.mu.Unlock()
}
