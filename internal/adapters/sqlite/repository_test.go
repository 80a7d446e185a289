package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rasesh6/alpaca-trading/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "exit-strategy-store-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func testRecord(orderID string) *domain.StrategyRecord {
	cfg := domain.StrategyConfig{
		TriggerType:   domain.OffsetPercent,
		TriggerOffset: 2,
		StopType:      domain.OffsetDollar,
		StopOffset:    0.25,
	}
	return domain.NewStrategyRecord(orderID, "AAPL", domain.Buy, 100, domain.StrategyConfirmationStop, cfg)
}

func TestRepository_PutAndGet(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	rec := testRecord("ord-1")
	require.NoError(t, repo.Put(ctx, rec))

	got, err := repo.Get(ctx, "ord-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.OrderID, got.OrderID)
	assert.Equal(t, rec.Symbol, got.Symbol)
	assert.Equal(t, rec.Side, got.Side)
	assert.Equal(t, rec.StrategyType, got.StrategyType)
	assert.Equal(t, rec.Config.TriggerOffset, got.Config.TriggerOffset)
	assert.Equal(t, domain.StatusWaitingFill, got.Status)
	assert.Nil(t, got.FillPrice)
	assert.Nil(t, got.TriggerPrice)
	assert.Empty(t, got.ExitOrderIDs)
}

func TestRepository_GetMissingReturnsNil(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	got, err := repo.Get(context.Background(), "no-such-order")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_PutReplacesExisting(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	rec := testRecord("ord-1")
	require.NoError(t, repo.Put(ctx, rec))

	rec.SetFillPrice(65.00)
	rec.SetTriggerPrice(66.30)
	rec.Triggered = true
	rec.ExitOrderIDs = []string{"exit-1"}
	require.NoError(t, repo.Put(ctx, rec))

	got, err := repo.Get(ctx, "ord-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.FillPrice)
	assert.Equal(t, 65.00, *got.FillPrice)
	require.NotNil(t, got.TriggerPrice)
	assert.Equal(t, 66.30, *got.TriggerPrice)
	assert.True(t, got.Triggered)
	assert.Equal(t, []string{"exit-1"}, got.ExitOrderIDs)
}

func TestRepository_ListActive(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	waiting := testRecord("ord-waiting")
	require.NoError(t, repo.Put(ctx, waiting))

	triggered := testRecord("ord-triggered")
	triggered.SetFillPrice(20.00)
	triggered.Status = domain.StatusWaitingTrigger
	require.NoError(t, repo.Put(ctx, triggered))

	done := testRecord("ord-done")
	done.Status = domain.StatusComplete
	require.NoError(t, repo.Put(ctx, done))

	timedOut := testRecord("ord-timeout")
	timedOut.Status = domain.StatusTimeout
	require.NoError(t, repo.Put(ctx, timedOut))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	ids := []string{active[0].OrderID, active[1].OrderID}
	assert.Contains(t, ids, "ord-waiting")
	assert.Contains(t, ids, "ord-triggered")
}

func TestRepository_Delete(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	rec := testRecord("ord-1")
	require.NoError(t, repo.Put(ctx, rec))
	require.NoError(t, repo.Delete(ctx, "ord-1"))

	got, err := repo.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting a missing record is not an error.
	assert.NoError(t, repo.Delete(ctx, "ord-1"))
}

func TestRepository_TransitionCAS(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	rec := testRecord("ord-1")
	require.NoError(t, repo.Put(ctx, rec))

	// First writer wins the waiting_fill -> waiting_trigger transition.
	first := *rec
	first.SetFillPrice(65.00)
	first.SetTriggerPrice(66.30)
	first.Status = domain.StatusWaitingTrigger
	won, err := repo.Transition(ctx, domain.StatusWaitingFill, &first)
	require.NoError(t, err)
	assert.True(t, won)

	// A racing writer attempting the same transition loses.
	second := *rec
	second.SetFillPrice(65.10)
	second.Status = domain.StatusWaitingTrigger
	won, err = repo.Transition(ctx, domain.StatusWaitingFill, &second)
	require.NoError(t, err)
	assert.False(t, won, "second transition out of waiting_fill must lose")

	got, err := repo.Get(ctx, "ord-1")
	require.NoError(t, err)
	require.NotNil(t, got.FillPrice)
	assert.Equal(t, 65.00, *got.FillPrice, "losing writer must not overwrite the fill price")
	assert.Equal(t, domain.StatusWaitingTrigger, got.Status)
}

func TestRepository_TransitionRejectsIllegalPath(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	rec := testRecord("ord-1")
	rec.Status = domain.StatusComplete
	require.NoError(t, repo.Put(ctx, rec))

	rec.Status = domain.StatusWaitingTrigger
	_, err := repo.Transition(ctx, domain.StatusComplete, rec)
	assert.Error(t, err, "no transition out of a terminal status")
}

func TestRepository_SurvivesReopen(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "exit-strategy-store-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)
	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	repo, err := NewRepository(Config{DBPath: dbPath, Logger: &mockLogger{}})
	require.NoError(t, err)

	rec := testRecord("ord-1")
	rec.SetFillPrice(20.00)
	rec.SetTriggerPrice(19.60)
	rec.Status = domain.StatusWaitingTrigger
	rec.CreatedAt = time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.Put(ctx, rec))
	require.NoError(t, repo.Close())

	// Simulated restart: a fresh repository over the same file sees the
	// record exactly as persisted.
	reopened, err := NewRepository(Config{DBPath: dbPath, Logger: &mockLogger{}})
	require.NoError(t, err)
	defer reopened.Close()

	active, err := reopened.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, domain.StatusWaitingTrigger, active[0].Status)
	require.NotNil(t, active[0].TriggerPrice)
	assert.Equal(t, 19.60, *active[0].TriggerPrice)
}
