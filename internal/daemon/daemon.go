// Package daemon runs the reconciliation engine on a schedule.
//
// The daemon:
// 1. Runs a reconciliation immediately on start, then on a fixed interval
// 2. Watches the mapping rules file and hot-reloads it on change
// 3. Records every run outcome in the history store
// 4. Handles graceful shutdown
//
// Runs never overlap: a trigger that arrives while a run is in flight is
// dropped, and the next scheduled tick picks up the work.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ledgersync/ledgersync/internal/config"
	"github.com/ledgersync/ledgersync/internal/engine"
)

// Runner executes one reconciliation over a time window.
type Runner interface {
	Reconcile(ctx context.Context, start, end time.Time) (*engine.RunOutcome, error)
}

// RunRecorder persists run outcomes. The history store implements it.
type RunRecorder interface {
	RecordRun(ctx context.Context, outcome *engine.RunOutcome) (int64, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Interval between scheduled runs.
	Interval time.Duration

	// WindowDays is how far back each run's worklog window reaches.
	WindowDays int

	// DebounceInterval is how long to wait after a rules file event
	// before reloading, batching rapid editor writes together.
	DebounceInterval time.Duration

	// OnRun is called after every completed run, including failed ones.
	// Nil disables notifications.
	OnRun func(outcome *engine.RunOutcome)

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         15 * time.Minute,
		WindowDays:       14,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules reconciliation runs and hot-reloads mapping rules.
type Daemon struct {
	runner       Runner
	recorder     RunRecorder
	rules        *config.RulesHolder
	mappingsPath string
	config       *Config

	watcher     *fsnotify.Watcher
	ruleEventMu sync.Mutex
	ruleEventAt time.Time

	running atomic.Bool
	trigger chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon.
//
// recorder may be nil to skip history recording. rules and mappingsPath
// may be zero to disable hot reload.
func New(runner Runner, recorder RunRecorder, rules *config.RulesHolder, mappingsPath string, cfg *Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 14
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		runner:       runner,
		recorder:     recorder,
		rules:        rules,
		mappingsPath: mappingsPath,
		config:       cfg,
		trigger:      make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins scheduled operation.
//
// The daemon runs once immediately, then on every interval tick and on
// every TriggerNow call. This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon: interval %s, window %d days",
		d.config.Interval, d.config.WindowDays)

	if d.rules != nil && d.mappingsPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = watcher

		// Watch the directory, not the file: editors and atomic writers
		// replace the file and break a direct watch.
		dir := filepath.Dir(d.mappingsPath)
		if err := d.watcher.Add(dir); err != nil {
			_ = d.watcher.Close()
			return fmt.Errorf("failed to watch rules directory: %w", err)
		}
		d.config.Logger.Printf("Watching mapping rules: %s", d.mappingsPath)

		d.wg.Add(2)
		go d.watchRuleEvents()
		go d.reloadLoop()
	}

	d.wg.Add(1)
	go d.runLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Running reports whether a reconciliation is currently in flight.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// TriggerNow requests an immediate run. Returns false when a run is
// already in flight or a trigger is already pending.
func (d *Daemon) TriggerNow() bool {
	if d.running.Load() {
		return false
	}
	select {
	case d.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// runLoop executes the initial run, then scheduled and triggered runs.
func (d *Daemon) runLoop() {
	defer d.wg.Done()

	d.runOnce()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runOnce()
		case <-d.trigger:
			d.runOnce()
		}
	}
}

// runOnce executes a single reconciliation if none is in flight.
func (d *Daemon) runOnce() {
	if !d.running.CompareAndSwap(false, true) {
		d.config.Logger.Println("Run already in flight, skipping")
		return
	}
	defer d.running.Store(false)

	end := time.Now()
	start := end.AddDate(0, 0, -d.config.WindowDays)

	outcome, err := d.runner.Reconcile(d.ctx, start, end)
	if err != nil {
		d.config.Logger.Printf("Run failed: %v", err)
	}
	if outcome == nil {
		return
	}

	if d.recorder != nil {
		if _, err := d.recorder.RecordRun(d.ctx, outcome); err != nil {
			d.config.Logger.Printf("Warning: failed to record run: %v", err)
		}
	}
	if d.config.OnRun != nil {
		d.config.OnRun(outcome)
	}
}

// watchRuleEvents monitors filesystem events on the rules file.
func (d *Daemon) watchRuleEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(d.mappingsPath) {
				continue
			}
			d.ruleEventMu.Lock()
			d.ruleEventAt = time.Now()
			d.ruleEventMu.Unlock()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// reloadLoop reloads the rules file once events settle.
func (d *Daemon) reloadLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.maybeReloadRules()
		}
	}
}

func (d *Daemon) maybeReloadRules() {
	d.ruleEventMu.Lock()
	pending := !d.ruleEventAt.IsZero() && time.Since(d.ruleEventAt) >= d.config.DebounceInterval
	if pending {
		d.ruleEventAt = time.Time{}
	}
	d.ruleEventMu.Unlock()
	if !pending {
		return
	}

	rules, err := config.LoadRules(d.mappingsPath)
	if err != nil {
		// Keep the last good rules on a broken edit.
		d.config.Logger.Printf("Error reloading mapping rules: %v", err)
		return
	}
	d.rules.Replace(rules)
	d.config.Logger.Printf("Reloaded mapping rules from %s", d.mappingsPath)
}
