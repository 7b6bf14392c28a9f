package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	syncerrors "github.com/erp-sync/internal/errors"
	"github.com/erp-sync/internal/logging"
	"github.com/erp-sync/internal/models"
	"github.com/erp-sync/internal/service"
	"github.com/erp-sync/internal/storage"
	"github.com/erp-sync/internal/types"
)

// Mock collaborators for testing

type stubTransient struct {
	mu     sync.Mutex
	values map[string]string
}

func newStubTransient() *stubTransient {
	return &stubTransient{values: make(map[string]string)}
}

func (s *stubTransient) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if str, ok := value.(string); ok {
		s.values[key] = str
	} else {
		s.values[key] = "1"
	}
	return nil
}

func (s *stubTransient) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *stubTransient) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

type stubLockManager struct {
	owners map[types.EntityType]string
}

func newStubLockManager() *stubLockManager {
	return &stubLockManager{owners: make(map[types.EntityType]string)}
}

func (s *stubLockManager) Acquire(_ context.Context, entity types.EntityType, owner string) (bool, error) {
	if _, held := s.owners[entity]; held {
		return false, nil
	}
	s.owners[entity] = owner
	return true, nil
}

func (s *stubLockManager) Release(_ context.Context, entity types.EntityType, owner string) error {
	if s.owners[entity] == owner {
		delete(s.owners, entity)
	}
	return nil
}

func (s *stubLockManager) GetLockInfo(_ context.Context, entity types.EntityType) (*models.LockInfo, error) {
	owner, held := s.owners[entity]
	if !held {
		return nil, nil
	}
	now := time.Now()
	return &models.LockInfo{
		Entity:    entity,
		Owner:     owner,
		Active:    true,
		ExpiresAt: now.Add(time.Hour),
	}, nil
}

func (s *stubLockManager) UpdateHeartbeat(_ context.Context, _ types.EntityType) (bool, error) {
	return true, nil
}

func (s *stubLockManager) ExtendLock(_ context.Context, _ types.EntityType, _ time.Duration) (bool, error) {
	return true, nil
}

func (s *stubLockManager) GetActiveLocks(_ context.Context) ([]*models.LockInfo, error) {
	return nil, nil
}

type stubHistory struct {
	mu      sync.Mutex
	records []*models.SyncHistoryRecord
	cleaned int
}

func (s *stubHistory) AddSyncHistory(_ context.Context, record *models.SyncHistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *stubHistory) GetSyncHistory(_ context.Context, _ int) ([]*models.SyncHistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records, nil
}

func (s *stubHistory) CleanHistory(_ context.Context, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaned++
	return 0, nil
}

func (s *stubHistory) countByStatus(status types.HistoryStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, record := range s.records {
		if record.Status == status {
			count++
		}
	}
	return count
}

type stubPolicy int

func (p stubPolicy) DefaultBatchSize(types.EntityType) int { return int(p) }

// stubSource serves a fixed item population in batches. afterBatch, when
// set, runs after each successful batch (used to inject cancellation).
type stubSource struct {
	totalItems int
	errPerItem map[int]int // batch -> item-level error count
	failBatch  int         // batch whose SyncBatch call returns an error
	onCount    func()
	afterBatch func(batch int)

	batches []int
}

func (s *stubSource) CountItems(_ context.Context, _ types.EntityType, _ types.SyncDirection) (int, error) {
	if s.onCount != nil {
		s.onCount()
	}
	return s.totalItems, nil
}

func (s *stubSource) SyncBatch(_ context.Context, _ types.EntityType, _ types.SyncDirection, batch, batchSize int) (BatchResult, error) {
	if s.failBatch != 0 && batch == s.failBatch {
		return BatchResult{}, errors.New("source unavailable")
	}

	s.batches = append(s.batches, batch)

	remaining := s.totalItems - (batch-1)*batchSize
	items := batchSize
	if remaining < items {
		items = remaining
	}

	result := BatchResult{
		ItemsSynced: items,
		Errors:      s.errPerItem[batch],
	}
	if s.afterBatch != nil {
		s.afterBatch(batch)
	}
	return result, nil
}

type runnerEnv struct {
	runner  *Runner
	status  *service.StatusService
	history *stubHistory
	locks   *stubLockManager
	source  *stubSource
}

func newRunnerEnv(t *testing.T, source *stubSource) *runnerEnv {
	t.Helper()

	history := &stubHistory{}
	locks := newStubLockManager()

	status, err := service.NewStatusService(&service.StatusServiceConfig{
		Options:   storage.NewMemoryOptionStore(),
		Transient: newStubTransient(),
		Locks:     locks,
		History:   history,
		Policy:    stubPolicy(10),
	})
	if err != nil {
		t.Fatalf("NewStatusService failed: %v", err)
	}

	runner, err := NewRunner(&RunnerConfig{
		Status: status,
		Source: source,
		Owner:  "test-worker",
	})
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	return &runnerEnv{runner: runner, status: status, history: history, locks: locks, source: source}
}

func TestRunnerCompletesRun(t *testing.T) {
	source := &stubSource{totalItems: 25, errPerItem: map[int]int{2: 1}}
	env := newRunnerEnv(t, source)
	ctx := context.Background()

	result, err := env.runner.Run(ctx, types.EntityProducts, types.DirectionERPToStore)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Cancelled {
		t.Error("completed run reported cancelled")
	}
	if result.Batches != 3 {
		t.Errorf("Batches = %d, want 3 for 25 items at size 10", result.Batches)
	}
	if result.ItemsSynced != 25 {
		t.Errorf("ItemsSynced = %d, want 25", result.ItemsSynced)
	}
	if result.Errors != 1 {
		t.Errorf("Errors = %d, want 1", result.Errors)
	}

	if env.status.IsSyncInProgress(ctx) {
		t.Error("run should be closed after completion")
	}
	if _, ok := env.status.GetLastSync(ctx, types.EntityProducts, types.DirectionERPToStore); !ok {
		t.Error("lastSync should be recorded")
	}
	if got := env.history.countByStatus(types.HistoryCompleted); got != 1 {
		t.Errorf("completed history records = %d, want 1", got)
	}
	if len(env.locks.owners) != 0 {
		t.Error("lock should be released after the run")
	}
}

func TestRunnerEmptySource(t *testing.T) {
	env := newRunnerEnv(t, &stubSource{totalItems: 0})

	result, err := env.runner.Run(context.Background(), types.EntityOrders, types.DirectionStoreToERP)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Batches != 0 || result.ItemsSynced != 0 {
		t.Errorf("empty source result = %+v, want no batches", result)
	}
	if got := env.history.countByStatus(types.HistoryCompleted); got != 1 {
		t.Errorf("empty run should still finalize, history = %d", got)
	}
}

func TestRunnerStopsOnCancellation(t *testing.T) {
	source := &stubSource{totalItems: 50}
	env := newRunnerEnv(t, source)
	ctx := context.Background()

	source.afterBatch = func(batch int) {
		if batch == 2 {
			env.status.RequestCancellation(ctx)
		}
	}

	result, err := env.runner.Run(ctx, types.EntityProducts, types.DirectionERPToStore)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.Cancelled {
		t.Fatal("run should report cancellation")
	}
	if len(source.batches) != 2 {
		t.Errorf("source ran %d batches, want 2 before the poll caught the flag", len(source.batches))
	}

	if env.status.IsSyncInProgress(ctx) {
		t.Error("cancelled run should be cleared")
	}
	if env.status.IsCancellationRequested(ctx) {
		t.Error("cancellation flags should be cleared after handling")
	}
	if got := env.history.countByStatus(types.HistoryCancelled); got != 1 {
		t.Errorf("cancelled history records = %d, want 1", got)
	}
	if len(env.locks.owners) != 0 {
		t.Error("lock should be released after a cancelled run")
	}
}

func TestRunnerLockContention(t *testing.T) {
	env := newRunnerEnv(t, &stubSource{totalItems: 10})
	ctx := context.Background()

	env.locks.Acquire(ctx, types.EntityProducts, "other-worker")

	_, err := env.runner.Run(ctx, types.EntityProducts, types.DirectionERPToStore)
	if err == nil {
		t.Fatal("run against a held lock should fail")
	}
	var catErr *syncerrors.CategorizedError
	if !errors.As(err, &catErr) || catErr.Code != "LOCK_UNAVAILABLE" {
		t.Errorf("err = %v, want a LOCK_UNAVAILABLE categorized error", err)
	}
	if env.locks.owners[types.EntityProducts] != "other-worker" {
		t.Error("contended lock must stay with its owner")
	}
}

func TestRunnerBatchFailureClearsRun(t *testing.T) {
	source := &stubSource{totalItems: 30, failBatch: 2}
	env := newRunnerEnv(t, source)
	ctx := context.Background()

	if _, err := env.runner.Run(ctx, types.EntityProducts, types.DirectionERPToStore); err == nil {
		t.Fatal("failing batch should abort the run")
	}

	if env.status.IsSyncInProgress(ctx) {
		t.Error("aborted run should not stay in progress")
	}
	if len(env.locks.owners) != 0 {
		t.Error("lock should be released after an aborted run")
	}
}

func TestRunnerRejectsUnknownPair(t *testing.T) {
	env := newRunnerEnv(t, &stubSource{totalItems: 1})
	ctx := context.Background()

	var catErr *syncerrors.CategorizedError

	_, err := env.runner.Run(ctx, "catalogs", types.DirectionERPToStore)
	if !errors.As(err, &catErr) || catErr.Code != "INVALID_ENTITY" {
		t.Errorf("err = %v, want an INVALID_ENTITY categorized error", err)
	}

	_, err = env.runner.Run(ctx, types.EntityProducts, "sideways")
	if !errors.As(err, &catErr) || catErr.Code != "INVALID_DIRECTION" {
		t.Errorf("err = %v, want an INVALID_DIRECTION categorized error", err)
	}
}

func TestRunnerLogsUnpersistedTotals(t *testing.T) {
	options := storage.NewMemoryOptionStore()
	status, err := service.NewStatusService(&service.StatusServiceConfig{
		Options:   options,
		Transient: newStubTransient(),
		Locks:     newStubLockManager(),
		History:   &stubHistory{},
		Policy:    stubPolicy(10),
	})
	if err != nil {
		t.Fatalf("NewStatusService failed: %v", err)
	}

	var logBuf bytes.Buffer
	logger := logging.NewLogger(logging.LevelInfo, logging.FormatJSON)
	logger.SetOutput(&logBuf)

	// The store dies right after the run initializes, so the totals patch
	// is the first write to fail.
	source := &stubSource{totalItems: 10}
	source.onCount = func() { options.FailWrites = true }

	runner, err := NewRunner(&RunnerConfig{
		Status: status,
		Source: source,
		Owner:  "test-worker",
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	if _, err := runner.Run(context.Background(), types.EntityProducts, types.DirectionERPToStore); err == nil {
		t.Fatal("run with a dead store should fail at finalize")
	}

	if !strings.Contains(logBuf.String(), "Run totals not persisted") {
		t.Error("lost totals write should be logged")
	}
}
