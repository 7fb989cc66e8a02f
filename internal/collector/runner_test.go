package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/taometrics/pricehist/internal/models"
	"github.com/taometrics/pricehist/internal/storage"
)

// MockFetcher stands in for the provider boundary.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchFullHistory(ctx context.Context, asset, vs string) ([]models.RawPoint, error) {
	args := m.Called(ctx, asset, vs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RawPoint), args.Error(1)
}

func (m *MockFetcher) FetchRange(ctx context.Context, asset, vs string, from, to int64) ([]models.RawPoint, error) {
	args := m.Called(ctx, asset, vs, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RawPoint), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func raw(ms int64, price string) models.RawPoint {
	d, _ := decimal.NewFromString(price)
	return models.RawPoint{TimestampMS: ms, Price: d}
}

func point(ts int64, price string) models.PricePoint {
	d, _ := decimal.NewFromString(price)
	return models.PricePoint{Timestamp: ts, Price: d}
}

var testConfig = Config{
	Asset:         "bittensor",
	VsCurrency:    "usd",
	FallbackStart: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC),
}

func newTestRunner(t *testing.T, fetcher Fetcher, existing []models.PricePoint) (*Runner, *storage.FileStore) {
	t.Helper()
	store := storage.NewFileStore(filepath.Join(t.TempDir(), "prices.json"), testLogger())
	if existing != nil {
		require.NoError(t, store.Write(context.Background(), existing))
	}

	runner := NewRunner(testConfig, store, fetcher, testLogger())
	runner.Now = func() time.Time { return time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC) }
	return runner, store
}

func TestRunIncrementalBootstrap(t *testing.T) {
	fetcher := new(MockFetcher)
	runner, store := newTestRunner(t, fetcher, nil)

	wantFrom := testConfig.FallbackStart.Unix()
	wantTo := runner.Now().Unix()
	fetcher.On("FetchRange", mock.Anything, "bittensor", "usd", wantFrom, wantTo).
		Return([]models.RawPoint{raw(1000000, "5.0"), raw(2000000, "5.5")}, nil)

	summary, err := runner.Run(context.Background(), ModeIncremental)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 2, summary.Added)
	assert.Equal(t, 2, summary.Total)
	assert.True(t, summary.Written)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, int64(1000), stored[0].Timestamp)
	fetcher.AssertExpectations(t)
}

func TestRunIncrementalWindowStartsAfterLastPoint(t *testing.T) {
	fetcher := new(MockFetcher)
	existing := []models.PricePoint{point(1000, "5.0"), point(2000, "5.5")}
	runner, store := newTestRunner(t, fetcher, existing)

	fetcher.On("FetchRange", mock.Anything, "bittensor", "usd", int64(2001), runner.Now().Unix()).
		Return([]models.RawPoint{raw(1000000, "5.0"), raw(3000000, "6.0")}, nil)

	summary, err := runner.Run(context.Background(), ModeIncremental)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 1, summary.Added, "timestamp 1000 is already stored")
	assert.Equal(t, 3, summary.Total)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, int64(3000), stored[2].Timestamp)
	assert.Equal(t, "6.0", stored[2].Price.String())
}

func TestRunFullRefreshDeduplicates(t *testing.T) {
	fetcher := new(MockFetcher)
	existing := []models.PricePoint{point(1000, "5.0")}
	runner, store := newTestRunner(t, fetcher, existing)

	fetcher.On("FetchFullHistory", mock.Anything, "bittensor", "usd").
		Return([]models.RawPoint{raw(1000000, "5.0"), raw(2000000, "5.5")}, nil)

	summary, err := runner.Run(context.Background(), ModeFullRefresh)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Added)
	assert.True(t, summary.Written)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRunNoDataReturned(t *testing.T) {
	fetcher := new(MockFetcher)
	existing := []models.PricePoint{point(1000, "5.0")}
	runner, store := newTestRunner(t, fetcher, existing)

	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	beforeInfo, err := os.Stat(store.Path())
	require.NoError(t, err)

	fetcher.On("FetchRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]models.RawPoint{}, nil)

	summary, err := runner.Run(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Fetched)
	assert.Equal(t, 0, summary.Added)
	assert.False(t, summary.Written)

	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after, "no write may happen when the provider returns nothing")
	afterInfo, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, beforeInfo.ModTime(), afterInfo.ModTime(), "file must not even be touched")
}

func TestRunNoNewData(t *testing.T) {
	fetcher := new(MockFetcher)
	existing := []models.PricePoint{point(1000, "5.0")}
	runner, store := newTestRunner(t, fetcher, existing)

	beforeInfo, err := os.Stat(store.Path())
	require.NoError(t, err)

	// Provider returns data, but every point is already stored. Distinct
	// from the empty-response case: Fetched > 0, Added == 0.
	fetcher.On("FetchRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]models.RawPoint{raw(1000000, "5.0")}, nil)

	summary, err := runner.Run(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 0, summary.Added)
	assert.False(t, summary.Written)

	afterInfo, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, beforeInfo.ModTime(), afterInfo.ModTime())
}

func TestRunIdempotent(t *testing.T) {
	fetcher := new(MockFetcher)
	runner, store := newTestRunner(t, fetcher, nil)

	batch := []models.RawPoint{raw(1000000, "5.0"), raw(2000000, "5.5")}
	fetcher.On("FetchRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(batch, nil)

	first, err := runner.Run(context.Background(), ModeIncremental)
	require.NoError(t, err)
	require.True(t, first.Written)
	firstBytes, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	// Second run: the window has moved but the provider replays the same
	// data. Nothing new is added and the file is byte-identical.
	second, err := runner.Run(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Added)
	assert.False(t, second.Written)

	secondBytes, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, firstBytes, secondBytes)
}

func TestRunFirstWinsDeterminism(t *testing.T) {
	fetcher := new(MockFetcher)
	runner, store := newTestRunner(t, fetcher, nil)

	// Two sub-second samples collapse onto second 1000; the 5.0 delivered
	// first must be the persisted price.
	fetcher.On("FetchRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]models.RawPoint{raw(1000100, "5.0"), raw(1000900, "9.9")}, nil)

	_, err := runner.Run(context.Background(), ModeIncremental)
	require.NoError(t, err)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "5.0", stored[0].Price.String())
}

func TestRunFetchFailureLeavesFileUntouched(t *testing.T) {
	fetcher := new(MockFetcher)
	existing := []models.PricePoint{point(1000, "5.0")}
	runner, store := newTestRunner(t, fetcher, existing)

	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	fetcher.On("FetchRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset"))

	_, err = runner.Run(context.Background(), ModeIncremental)
	require.Error(t, err)

	after, readErr := os.ReadFile(store.Path())
	require.NoError(t, readErr)
	assert.Equal(t, before, after)
}

func TestRunCorruptFileStartsOverFromFallback(t *testing.T) {
	fetcher := new(MockFetcher)
	runner, store := newTestRunner(t, fetcher, nil)
	require.NoError(t, os.WriteFile(store.Path(), []byte("not json at all"), 0o644))

	// Corrupt storage degrades to the bootstrap window, not a failure.
	fetcher.On("FetchRange", mock.Anything, "bittensor", "usd", testConfig.FallbackStart.Unix(), runner.Now().Unix()).
		Return([]models.RawPoint{raw(1000000, "5.0")}, nil)

	summary, err := runner.Run(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Added)
	fetcher.AssertExpectations(t)
}

func TestRunUnknownMode(t *testing.T) {
	runner, _ := newTestRunner(t, new(MockFetcher), nil)

	_, err := runner.Run(context.Background(), Mode("streaming"))
	assert.Error(t, err)
}
