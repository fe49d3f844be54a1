/*
scheduler.go - Automated billing scheduler

PURPOSE:
  Periodically issues the current cycle's bills and refreshes the stored
  penalty/status snapshot of unsettled bills for every society in the unit
  directory.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Generation is idempotent: units already billed for the cycle are skipped,
    so every tick only fills gaps (new units, late rule configuration)
  - Refresh only recomputes with the same pure functions the read path uses;
    it never decides anything the query service would not
  - One society failing (e.g. a ConfigurationError) does not stop the others

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (SCHEDULER_ENABLED, default: false)

USAGE:
  scheduler := NewBillingScheduler(store, handler.Generator, handler.Ledger, cfg, nil)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - billing/generator.go: Generate
  - billing/ledger.go: Reconcile
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/maintenance-engine/billing"
	"github.com/warp/maintenance-engine/generic"
)

// SchedulerRun summarizes one scheduler pass.
type SchedulerRun struct {
	Societies int
	Created   int
	Refreshed int
	Failed    int
}

// BillingScheduler handles automated generation and reconciliation.
type BillingScheduler struct {
	Units         billing.UnitDirectory
	Generator     *billing.Generator
	Ledger        *billing.Ledger
	CheckInterval time.Duration
	Enabled       bool

	now    generic.Clock
	cfg    billing.Config
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBillingScheduler creates a new scheduler.
func NewBillingScheduler(units billing.UnitDirectory, gen *billing.Generator, ledger *billing.Ledger, cfg billing.Config, clock generic.Clock) *BillingScheduler {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &BillingScheduler{
		Units:         units,
		Generator:     gen,
		Ledger:        ledger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		now:           clock,
		cfg:           cfg,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (bs *BillingScheduler) Start() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	bs.ticker = time.NewTicker(bs.CheckInterval)
	bs.wg.Add(1)

	go bs.run()

	log.Printf("[Scheduler] Started with check interval: %v", bs.CheckInterval)
}

// Stop stops the scheduler.
func (bs *BillingScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.ticker != nil {
		bs.ticker.Stop()
		close(bs.stop)
		bs.wg.Wait()
		bs.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (bs *BillingScheduler) run() {
	defer bs.wg.Done()

	// Run immediately on start
	bs.RunNow(context.Background())

	for {
		select {
		case <-bs.ticker.C:
			bs.RunNow(context.Background())
		case <-bs.stop:
			return
		}
	}
}

// RunNow performs one pass over every society (for testing/admin).
func (bs *BillingScheduler) RunNow(ctx context.Context) SchedulerRun {
	var summary SchedulerRun

	cycle := generic.CycleOf(bs.cfg.DateOf(bs.now()))
	log.Printf("[Scheduler] Checking societies for cycle %s", cycle)

	societies, err := bs.Units.ListSocieties(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing societies: %v", err)
		summary.Failed++
		return summary
	}

	for _, society := range societies {
		summary.Societies++
		system := generic.SystemActor(society)

		report, err := bs.Generator.Generate(ctx, system, society, cycle)
		if err != nil {
			log.Printf("[Scheduler] Error generating %s for %s: %v", cycle, society, err)
			summary.Failed++
		} else {
			summary.Created += len(report.Created)
		}

		refreshed, err := bs.Ledger.Reconcile(ctx, society)
		if err != nil {
			log.Printf("[Scheduler] Error refreshing bills for %s: %v", society, err)
			summary.Failed++
		}
		summary.Refreshed += refreshed
	}

	if summary.Created > 0 || summary.Refreshed > 0 || summary.Failed > 0 {
		log.Printf("[Scheduler] Completed: %d societies, %d bills created, %d refreshed, %d failures",
			summary.Societies, summary.Created, summary.Refreshed, summary.Failed)
	}
	return summary
}

// GetNextRunTime returns when the next scheduled check will occur.
func (bs *BillingScheduler) GetNextRunTime() time.Time {
	return bs.now().Add(bs.CheckInterval)
}
