package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"backupvault/internal/archive"
	"backupvault/internal/backup"
	"backupvault/internal/catalog"
	"backupvault/internal/logging"
	"backupvault/internal/progress"
)

// scanInterval is how often the poll loop checks for due schedules.
const scanInterval = 30 * time.Second

// sleepGranularity bounds worst-case shutdown latency.
const sleepGranularity = time.Second

// store is the subset of *config.Store the scheduler depends on, kept
// narrow so this package doesn't need to import config's full surface
// (and so tests can supply an in-memory fake).
type store interface {
	GetRaw(key string, out interface{}) error
	SetRaw(key string, value interface{}) error
}

// Scheduler holds the set of declared schedules and dispatches backup
// executor invocations as they come due.
type Scheduler struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]Schedule
	store     store
	executor  *backup.Executor
	reporter  *progress.Reporter

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Scheduler backed by cat (for backup sessions) and
// persisted through st. rep, if non-nil, receives progress for every
// schedule-triggered backup.
func New(st store, cat *catalog.Catalog, rep *progress.Reporter) (*Scheduler, error) {
	s := &Scheduler{
		schedules: make(map[uuid.UUID]Schedule),
		store:     st,
		executor:  backup.NewExecutor(cat),
		reporter:  rep,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) load() error {
	var generic interface{}
	if err := s.store.GetRaw("schedules", &generic); err != nil {
		return fmt.Errorf("scheduler: load schedules: %w", err)
	}
	if generic == nil {
		return nil
	}

	// Round-trip through encoding/json so every stored field (UUID,
	// time.Time, time.Weekday) decodes through its own Marshaler instead
	// of relying on koanf's generic map decoder to know about them.
	raw, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("scheduler: re-marshal stored schedules: %w", err)
	}
	var list []Schedule
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("scheduler: decode stored schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sched := range list {
		s.schedules[sched.ID] = sched
	}
	return nil
}

func (s *Scheduler) persist() error {
	s.mu.Lock()
	list := make([]Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		list = append(list, sched)
	}
	s.mu.Unlock()

	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("scheduler: marshal schedules: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("scheduler: decode schedules for storage: %w", err)
	}
	if err := s.store.SetRaw("schedules", generic); err != nil {
		return fmt.Errorf("scheduler: persist schedules: %w", err)
	}
	return nil
}

// AddSchedule computes the schedule's initial next-fire time, stores it,
// and persists.
func (s *Scheduler) AddSchedule(sched Schedule) (Schedule, error) {
	next, err := NextFire(sched, time.Now())
	if err != nil {
		return Schedule{}, err
	}
	sched.NextFire = next

	s.mu.Lock()
	s.schedules[sched.ID] = sched
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return Schedule{}, err
	}
	return sched, nil
}

// RemoveSchedule deletes a schedule by ID and persists.
func (s *Scheduler) RemoveSchedule(id uuid.UUID) error {
	s.mu.Lock()
	delete(s.schedules, id)
	s.mu.Unlock()
	return s.persist()
}

// ListSchedules returns a snapshot of all schedules.
func (s *Scheduler) ListSchedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, sched)
	}
	return out
}

// RunNow triggers sched immediately in the background without touching
// its next_fire.
func (s *Scheduler) RunNow(ctx context.Context, id uuid.UUID) {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	go func() { _, _ = s.fire(ctx, sched, false) }()
}

// RunNowSync triggers sched immediately and blocks until the backup
// session finishes, for one-shot CLI invocations with no background
// scheduler process to keep the goroutine alive.
func (s *Scheduler) RunNowSync(ctx context.Context, id uuid.UUID) (*backup.Result, error) {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("scheduler: no schedule with id %s", id)
	}
	return s.fire(ctx, sched, false)
}

// Start launches the poll loop in a background goroutine. Stop blocks
// until the loop has exited.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop signals the poll loop to exit and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

// run scans every ~30 seconds, sleeping in 1-second slices so shutdown
// is noticed promptly. A schedule whose fire time was missed (worker
// blocked, process down) fires once on the next scan; multiple skipped
// intervals are not caught up.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	elapsed := scanInterval
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if elapsed >= scanInterval {
			s.scanAndFire(ctx)
			elapsed = 0
		}

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(sleepGranularity):
			elapsed += sleepGranularity
		}
	}
}

// scanAndFire collects due schedules under the lock, then fires each one
// outside the lock so a long-running backup never blocks Add/Remove/List.
func (s *Scheduler) scanAndFire(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []Schedule
	for _, sched := range s.schedules {
		if sched.Enabled && !sched.NextFire.After(now) {
			due = append(due, sched)
		}
	}
	s.mu.Unlock()

	for _, sched := range due {
		_, _ = s.fire(ctx, sched, true)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched Schedule, recomputeNextFire bool) (*backup.Result, error) {
	logging.Info().Str("schedule", sched.Name).Str("id", sched.ID.String()).Msg("scheduler: firing")

	result, err := s.executor.Run(ctx, backup.Request{
		Source: sched.Source, Destination: sched.Destination, Mode: sched.Mode,
	}, s.reporter)
	if err == nil {
		postProcess(sched, result)
	}

	s.mu.Lock()
	current, ok := s.schedules[sched.ID]
	if !ok {
		s.mu.Unlock()
		return result, err
	}
	current.LastFire = time.Now()
	if err != nil {
		current.LastResult = "error: " + err.Error()
	} else {
		current.LastResult = result.Status
	}

	// A cancelled run is not an error and keeps its next_fire, so it fires
	// again on the next scan after a restart.
	if recomputeNextFire && (err != nil || result.Status != "cancelled") {
		if current.Frequency == Once {
			current.Enabled = false
		} else {
			next, nextErr := NextFire(current, current.LastFire)
			if nextErr == nil {
				current.NextFire = next
			}
		}
	}
	s.schedules[sched.ID] = current
	s.mu.Unlock()

	if persistErr := s.persist(); persistErr != nil {
		logging.Error().Err(persistErr).Msg("scheduler: failed to persist after firing")
	}
	return result, err
}

// postProcess hands a completed backup folder to the archive collaborator:
// zip when the schedule asks for compression or encryption, then encrypt
// the zip when asked. Failures are logged, never propagated; the raw
// folder remains the ground truth for restores.
func postProcess(sched Schedule, result *backup.Result) {
	if result == nil || result.Status != "completed" {
		return
	}
	if !sched.Compress && !sched.Encrypt {
		return
	}

	zipPath := result.BackupFolder + ".zip"
	if err := archive.Zip(result.BackupFolder, zipPath); err != nil {
		logging.Error().Err(err).Str("folder", result.BackupFolder).Msg("scheduler: compress failed")
		return
	}
	logging.Info().Str("zip", zipPath).Msg("scheduler: backup folder compressed")

	if sched.Encrypt {
		encPath := zipPath + ".enc"
		if err := archive.EncryptFile(zipPath, encPath, sched.Password); err != nil {
			logging.Error().Err(err).Str("zip", zipPath).Msg("scheduler: encrypt failed")
			return
		}
		logging.Info().Str("file", encPath).Msg("scheduler: backup archive encrypted")
	}
}
