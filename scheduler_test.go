package vigil

import (
	"errors"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func schedulerFixture(mem *fakeMemory, p Provider) (*Scheduler, RunConfig) {
	s := NewScheduler(mem, nopRunLog{}, NewBus(nil), nil)
	cfg := RunConfig{
		Provider:     p,
		Memory:       mem,
		NewExecutor:  func() ToolExecutor { return &recordingExecutor{} },
		Context:      testBuilder(mem),
		Interval:     10 * time.Millisecond,
		MaxToolCalls: 5,
	}
	return s, cfg
}

func idleProvider() *scriptedProvider {
	p := newScripted(ChatResponse{Content: "resting."})
	p.repeat = true
	return p
}

func TestSchedulerStartStop(t *testing.T) {
	mem := &fakeMemory{}
	s, cfg := schedulerFixture(mem, idleProvider())

	if err := s.Start(cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return mem.updatedCount() >= 1 }, "no round completed")

	s.Stop()
	waitFor(t, func() bool { return s.Status().State == StateIdle }, "did not reach idle")

	if s.Status().TotalRounds < 1 {
		t.Errorf("total rounds = %d", s.Status().TotalRounds)
	}
}

func TestSchedulerAlreadyRunning(t *testing.T) {
	mem := &fakeMemory{}
	s, cfg := schedulerFixture(mem, idleProvider())

	if err := s.Start(cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		s.Stop()
		waitFor(t, func() bool { return s.Status().State == StateIdle }, "did not stop")
	}()

	err := s.Start(cfg)
	var already *ErrAlreadyRunning
	if !errors.As(err, &already) {
		t.Fatalf("second start: got %v, want ErrAlreadyRunning", err)
	}
}

func TestSchedulerResumesRoundCounter(t *testing.T) {
	// Clean restart after round 42: the next round must be 43, with no
	// startup writes beyond normal round output.
	mem := &fakeMemory{}
	mem.entries = append(mem.entries, TimelineEntry{Round: 42, Summary: "[10:00:00] old"})

	s, cfg := schedulerFixture(mem, idleProvider())
	if err := s.Start(cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return mem.updatedCount() >= 1 }, "no round completed")
	s.Stop()
	waitFor(t, func() bool { return s.Status().State == StateIdle }, "did not stop")

	if got := mem.updatedAt(0).Round; got != 43 {
		t.Errorf("first round after restart = %d, want 43", got)
	}
}

func TestSchedulerSnapshotFailureIsFatal(t *testing.T) {
	mem := &fakeMemory{updateErr: &ErrSnapshotUpdate{Primary: errors.New("boom")}}
	s, cfg := schedulerFixture(mem, idleProvider())

	if err := s.Start(cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return s.Status().State == StateError }, "did not reach error state")

	// The loop stopped: no further rounds accumulate.
	rounds := mem.entriesCount()
	time.Sleep(50 * time.Millisecond)
	if mem.entriesCount() != rounds {
		t.Error("loop kept running after fatal snapshot failure")
	}
}

func TestSchedulerRoundErrorIsNotFatal(t *testing.T) {
	p := newScripted(ChatResponse{Content: "fine"})
	p.errAt = 0 // first round's model call fails; later rounds succeed
	p.repeat = true
	mem := &fakeMemory{}
	s, cfg := schedulerFixture(mem, p)

	if err := s.Start(cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return mem.updatedCount() >= 2 }, "loop did not continue past a round error")
	s.Stop()
	waitFor(t, func() bool { return s.Status().State == StateIdle }, "did not stop")
}

func TestSchedulerRestart(t *testing.T) {
	mem := &fakeMemory{}
	s, cfg := schedulerFixture(mem, idleProvider())

	if err := s.Start(cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return mem.updatedCount() >= 1 }, "no round before restart")

	if err := s.Restart(cfg); err != nil {
		t.Fatalf("restart: %v", err)
	}
	state := s.Status().State
	if state != StateRunning && state != StateWaiting {
		t.Errorf("state after restart = %s", state)
	}
	s.Stop()
	waitFor(t, func() bool { return s.Status().State == StateIdle }, "did not stop")
}

func TestSchedulerInspire(t *testing.T) {
	mem := &fakeMemory{}
	s, _ := schedulerFixture(mem, idleProvider())

	if err := s.Inspire("try the roof"); err != nil {
		t.Fatalf("inspire: %v", err)
	}
	if text, ok := mem.TakeInspiration(); !ok || text != "try the roof" {
		t.Errorf("stored inspiration = %q, %v", text, ok)
	}
	if err := s.Inspire("   "); err == nil {
		t.Error("blank inspiration should fail")
	}
}

func TestSchedulerTimelineThenSnapshotOrder(t *testing.T) {
	// The timeline entry must exist before the snapshot update for the
	// same round sees it.
	mem := &fakeMemory{}
	s, cfg := schedulerFixture(mem, idleProvider())

	if err := s.Start(cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return mem.updatedCount() >= 1 }, "no round completed")
	s.Stop()
	waitFor(t, func() bool { return s.Status().State == StateIdle }, "did not stop")

	if mem.entriesCount() == 0 {
		t.Fatal("no timeline entries")
	}
	if mem.entryAt(0).Round != mem.updatedAt(0).Round {
		t.Errorf("snapshot round %d ran before timeline round %d",
			mem.updatedAt(0).Round, mem.entryAt(0).Round)
	}
	mem.mu.Lock()
	seen := mem.entriesAtUpdate
	mem.mu.Unlock()
	if len(seen) == 0 || seen[0] < 1 {
		t.Errorf("snapshot update ran before the round's timeline entry was appended (entries seen: %v)", seen)
	}
}
