package usecase

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/github-loc/internal/cache"
	"github.com/naka-gawa/github-loc/internal/config"
	"github.com/naka-gawa/github-loc/internal/domain"
	"github.com/naka-gawa/github-loc/internal/gateway"
)

// mockFetcher is a mock implementation of the gateway.Fetcher interface.
// It allows us to simulate the behavior of the GitHub gateway without making real API calls.
type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) ResolveUsername(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockFetcher) FetchAllRepositories(ctx context.Context) ([]domain.Repository, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Repository), args.Error(1)
}

func (m *mockFetcher) FetchContributorActivity(ctx context.Context, fullName string) ([]domain.ContributorActivity, error) {
	args := m.Called(ctx, fullName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ContributorActivity), args.Error(1)
}

func (m *mockFetcher) FetchCodeFrequency(ctx context.Context, fullName string) ([]domain.WeeklyDelta, error) {
	args := m.Called(ctx, fullName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.WeeklyDelta), args.Error(1)
}

func (m *mockFetcher) FetchAuthoredCommits(ctx context.Context, fullName, author string, limit int) ([]string, error) {
	args := m.Called(ctx, fullName, author, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockFetcher) FetchCommitStats(ctx context.Context, fullName, sha string) (domain.ContributionStats, error) {
	args := m.Called(ctx, fullName, sha)
	return args.Get(0).(domain.ContributionStats), args.Error(1)
}

func testConfig() config.Config {
	return config.Config{
		Token:            "test-token",
		Username:         "octocat",
		CacheTTL:         24 * time.Hour,
		MaxStatsRetries:  6,
		CommitSampleSize: 10,
	}
}

func newTestAggregator(t *testing.T, fetcher gateway.Fetcher, cfg config.Config) *Aggregator {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	store := cache.Open(filepath.Join(t.TempDir(), "cache.json"), cfg.CacheTTL, logger)
	a := NewAggregator(fetcher, store, cfg, logger)
	// No real sleeping in tests.
	a.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return a
}

func TestAggregator_ContributorStrategy(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchAllRepositories", mock.Anything).Return([]domain.Repository{
		{FullName: "octocat/app", Size: 120},
	}, nil)
	fetcher.On("FetchContributorActivity", mock.Anything, "octocat/app").Return([]domain.ContributorActivity{
		{Login: "someone-else", Weeks: []domain.WeeklyDelta{{Additions: 999, Deletions: 999}}},
		{Login: "octocat", Weeks: []domain.WeeklyDelta{
			{Additions: 50, Deletions: 10},
			{Additions: 30, Deletions: 5},
		}},
	}, nil)

	aggregator := newTestAggregator(t, fetcher, testConfig())
	result, err := aggregator.AnalyzeAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 80, result.TotalAdditions)
	assert.Equal(t, 15, result.TotalDeletions)
	assert.Equal(t, 65, result.NetLines)
	assert.Equal(t, []domain.RepoContribution{
		{Name: "octocat/app", Additions: 80, Deletions: 15, NetLines: 65},
	}, result.Contributions)

	// The result is written back to the cache.
	cached, ok := aggregator.cache.Get("octocat/app")
	require.True(t, ok)
	assert.Equal(t, domain.ContributionStats{Additions: 80, Deletions: 15}, cached)

	fetcher.AssertExpectations(t)
}

func TestAggregator_SkipsForksAndEmptyRepositories(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchAllRepositories", mock.Anything).Return([]domain.Repository{
		{FullName: "octocat/forked", Fork: true, Size: 500},
		{FullName: "octocat/empty", Fork: false, Size: 0},
	}, nil)

	aggregator := newTestAggregator(t, fetcher, testConfig())
	result, err := aggregator.AnalyzeAll(context.Background())

	require.NoError(t, err)
	assert.Zero(t, result.TotalAdditions)
	assert.Zero(t, result.TotalDeletions)
	assert.Empty(t, result.Contributions)
	assert.Equal(t, 2, result.RepositoriesFound)

	// Skipped repositories never reach the stats cascade.
	fetcher.AssertNotCalled(t, "FetchContributorActivity", mock.Anything, mock.Anything)
	fetcher.AssertNotCalled(t, "FetchCodeFrequency", mock.Anything, mock.Anything)
	fetcher.AssertNotCalled(t, "FetchAuthoredCommits", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAggregator_PendingStatsPollLimit(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchAllRepositories", mock.Anything).Return([]domain.Repository{
		{FullName: "octocat/app", Size: 120},
	}, nil)
	// The contributor endpoint never finishes computing.
	fetcher.On("FetchContributorActivity", mock.Anything, "octocat/app").Return(nil, gateway.ErrStatsPending)
	fetcher.On("FetchCodeFrequency", mock.Anything, "octocat/app").Return(nil, gateway.ErrNoData)
	fetcher.On("FetchAuthoredCommits", mock.Anything, "octocat/app", "octocat", 10).Return([]string{}, nil)

	var slept int
	aggregator := newTestAggregator(t, fetcher, testConfig())
	aggregator.sleep = func(ctx context.Context, d time.Duration) error {
		slept++
		return nil
	}

	result, err := aggregator.AnalyzeAll(context.Background())

	require.NoError(t, err)
	assert.Zero(t, result.TotalAdditions)
	assert.Zero(t, result.TotalDeletions)
	fetcher.AssertNumberOfCalls(t, "FetchContributorActivity", 6)
	assert.Equal(t, 6, slept)

	// Even an all-zero outcome is cached so the next run skips the cascade.
	_, ok := aggregator.cache.Get("octocat/app")
	assert.True(t, ok)
}

func TestAggregator_CodeFrequencyEstimate(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchAllRepositories", mock.Anything).Return([]domain.Repository{
		{FullName: "octocat/app", Size: 120},
	}, nil)
	fetcher.On("FetchContributorActivity", mock.Anything, "octocat/app").Return(nil, gateway.ErrRepoTooLarge)
	fetcher.On("FetchCodeFrequency", mock.Anything, "octocat/app").Return([]domain.WeeklyDelta{
		{Additions: 600, Deletions: -150},
		{Additions: 400, Deletions: -50},
	}, nil)
	// Ten sampled commits gives a scaling factor of 10/100 = 0.1.
	shas := []string{"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9"}
	fetcher.On("FetchAuthoredCommits", mock.Anything, "octocat/app", "octocat", 10).Return(shas, nil)

	aggregator := newTestAggregator(t, fetcher, testConfig())
	result, err := aggregator.AnalyzeAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 100, result.TotalAdditions)
	assert.Equal(t, 20, result.TotalDeletions)
	// The estimate came from code frequency; no per-commit fetches happened.
	fetcher.AssertNotCalled(t, "FetchCommitStats", mock.Anything, mock.Anything, mock.Anything)
}

func TestAggregator_CodeFrequencyScalingCap(t *testing.T) {
	cfg := testConfig()
	cfg.CommitSampleSize = 100

	fetcher := new(mockFetcher)
	fetcher.On("FetchAllRepositories", mock.Anything).Return([]domain.Repository{
		{FullName: "octocat/app", Size: 120},
	}, nil)
	fetcher.On("FetchContributorActivity", mock.Anything, "octocat/app").Return(nil, gateway.ErrNoData)
	fetcher.On("FetchCodeFrequency", mock.Anything, "octocat/app").Return([]domain.WeeklyDelta{
		{Additions: 1000, Deletions: -100},
	}, nil)
	// 100 sampled commits would be a factor of 1.0; it must cap at 0.5.
	shas := make([]string, 100)
	for i := range shas {
		shas[i] = "sha"
	}
	fetcher.On("FetchAuthoredCommits", mock.Anything, "octocat/app", "octocat", 100).Return(shas, nil)

	aggregator := newTestAggregator(t, fetcher, cfg)
	result, err := aggregator.AnalyzeAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 500, result.TotalAdditions)
	assert.Equal(t, 50, result.TotalDeletions)
}

func TestAggregator_FallsThroughToCommitSample(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchAllRepositories", mock.Anything).Return([]domain.Repository{
		{FullName: "octocat/app", Size: 120},
	}, nil)
	fetcher.On("FetchContributorActivity", mock.Anything, "octocat/app").Return(nil, gateway.ErrNoData)
	fetcher.On("FetchCodeFrequency", mock.Anything, "octocat/app").Return(nil, gateway.ErrNoData)
	fetcher.On("FetchAuthoredCommits", mock.Anything, "octocat/app", "octocat", 10).Return([]string{"abc", "def"}, nil)
	fetcher.On("FetchCommitStats", mock.Anything, "octocat/app", "abc").Return(domain.ContributionStats{Additions: 3, Deletions: 1}, nil)
	fetcher.On("FetchCommitStats", mock.Anything, "octocat/app", "def").Return(domain.ContributionStats{Additions: 4, Deletions: 0}, nil)

	aggregator := newTestAggregator(t, fetcher, testConfig())
	result, err := aggregator.AnalyzeAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 7, result.TotalAdditions)
	assert.Equal(t, 1, result.TotalDeletions)
	fetcher.AssertExpectations(t)
}

func TestAggregator_CacheHitSkipsNetwork(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchAllRepositories", mock.Anything).Return([]domain.Repository{
		{FullName: "octocat/app", Size: 120},
	}, nil)

	aggregator := newTestAggregator(t, fetcher, testConfig())
	aggregator.cache.Put("octocat/app", domain.ContributionStats{Additions: 42, Deletions: 6})

	result, err := aggregator.AnalyzeAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 42, result.TotalAdditions)
	assert.Equal(t, 6, result.TotalDeletions)
	fetcher.AssertNotCalled(t, "FetchContributorActivity", mock.Anything, mock.Anything)
	fetcher.AssertNotCalled(t, "FetchCodeFrequency", mock.Anything, mock.Anything)
	fetcher.AssertNotCalled(t, "FetchAuthoredCommits", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAggregator_ResolvesUsernameWhenUnset(t *testing.T) {
	cfg := testConfig()
	cfg.Username = ""

	fetcher := new(mockFetcher)
	fetcher.On("ResolveUsername", mock.Anything).Return("octocat", nil)
	fetcher.On("FetchAllRepositories", mock.Anything).Return([]domain.Repository{
		{FullName: "octocat/app", Size: 120},
	}, nil)
	fetcher.On("FetchContributorActivity", mock.Anything, "octocat/app").Return([]domain.ContributorActivity{
		{Login: "octocat", Weeks: []domain.WeeklyDelta{{Additions: 12, Deletions: 2}}},
	}, nil)

	aggregator := newTestAggregator(t, fetcher, cfg)
	result, err := aggregator.AnalyzeAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 12, result.TotalAdditions)
	fetcher.AssertExpectations(t)
}

func TestAggregator_BreakdownOrderAndSummary(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchAllRepositories", mock.Anything).Return([]domain.Repository{
		{FullName: "octocat/small", Size: 10},
		{FullName: "octocat/large", Size: 10},
	}, nil)
	fetcher.On("FetchContributorActivity", mock.Anything, "octocat/small").Return([]domain.ContributorActivity{
		{Login: "octocat", Weeks: []domain.WeeklyDelta{{Additions: 10, Deletions: 1}}},
	}, nil)
	fetcher.On("FetchContributorActivity", mock.Anything, "octocat/large").Return([]domain.ContributorActivity{
		{Login: "octocat", Weeks: []domain.WeeklyDelta{{Additions: 30, Deletions: 4}}},
	}, nil)

	aggregator := newTestAggregator(t, fetcher, testConfig())
	result, err := aggregator.AnalyzeAll(context.Background())

	require.NoError(t, err)
	require.Len(t, result.Contributions, 2)
	assert.Equal(t, "octocat/large", result.Contributions[0].Name)
	assert.Equal(t, "octocat/small", result.Contributions[1].Name)
	assert.Equal(t, 2, result.RepositoriesAnalyzed)
	require.NotNil(t, result.Summary)
	assert.InDelta(t, 20.0, result.Summary.MeanAdditions, 0.001)
	assert.InDelta(t, 20.0, result.Summary.MedianAdditions, 0.001)
}

func TestAggregator_CancelledContextReturnsPartialResult(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchAllRepositories", mock.Anything).Return([]domain.Repository{
		{FullName: "octocat/app", Size: 120},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	aggregator := newTestAggregator(t, fetcher, testConfig())
	result, err := aggregator.AnalyzeAll(ctx)

	require.ErrorIs(t, err, context.Canceled)
	// The partial result still comes back so the caller can report and
	// flush the cache.
	require.NotNil(t, result)
	assert.Equal(t, 1, result.RepositoriesFound)
	fetcher.AssertNotCalled(t, "FetchContributorActivity", mock.Anything, mock.Anything)
}
