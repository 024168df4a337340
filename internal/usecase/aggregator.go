// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"errors"
	"log"
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/github-loc/internal/cache"
	"github.com/naka-gawa/github-loc/internal/config"
	"github.com/naka-gawa/github-loc/internal/domain"
	"github.com/naka-gawa/github-loc/internal/gateway"
)

// Aggregator walks every repository visible to the user and estimates the
// total contributed lines through a cascade of retrieval strategies, from
// the most accurate to the cheapest. It owns the run's cache session: the
// cascade reads and writes through the store, never replaces it.
type Aggregator struct {
	fetcher gateway.Fetcher
	cache   *cache.Store
	cfg     config.Config
	logger  *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewAggregator creates a new Aggregator instance.
func NewAggregator(fetcher gateway.Fetcher, store *cache.Store, cfg config.Config, logger *log.Logger) *Aggregator {
	return &Aggregator{
		fetcher: fetcher,
		cache:   store,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// AnalyzeAll performs the main business logic: enumerate repositories, skip
// forks and empty repositories, run the stats cascade for the rest, and
// accumulate totals. Per-repository failures are logged and skipped. On
// cancellation the partial result is returned together with the context
// error so the caller can still flush the cache.
func (a *Aggregator) AnalyzeAll(ctx context.Context) (*domain.AggregateResult, error) {
	username := a.cfg.Username
	if username == "" {
		var err error
		username, err = a.fetcher.ResolveUsername(ctx)
		if err != nil {
			return nil, err
		}
	}
	a.logger.Printf("Analyzing contributions for user: %s", username)

	repos, err := a.fetcher.FetchAllRepositories(ctx)
	if err != nil {
		return nil, err
	}

	result := &domain.AggregateResult{RepositoriesFound: len(repos)}
	a.logger.Printf("Analyzing contributions across %d repositories...", len(repos))

	for i, repo := range repos {
		if err := ctx.Err(); err != nil {
			finishResult(result)
			return result, err
		}
		a.logger.Printf("[%d/%d] %s", i+1, len(repos), repo.FullName)

		if repo.Fork {
			a.logger.Println("  Skipping fork")
			continue
		}
		if repo.Size == 0 {
			a.logger.Println("  Skipping empty repository")
			continue
		}

		st, err := a.repositoryStats(ctx, username, repo.FullName)
		if err != nil {
			if ctx.Err() != nil {
				finishResult(result)
				return result, ctx.Err()
			}
			a.logger.Printf("  Error processing %s: %v", repo.FullName, err)
			continue
		}
		if st.IsZero() {
			a.logger.Println("  No contributions found")
			continue
		}

		a.logger.Printf("  +%d -%d lines", st.Additions, st.Deletions)
		result.RepositoriesAnalyzed++
		result.TotalAdditions += st.Additions
		result.TotalDeletions += st.Deletions
		result.Contributions = append(result.Contributions, domain.RepoContribution{
			Name:      repo.FullName,
			Additions: st.Additions,
			Deletions: st.Deletions,
			NetLines:  st.Additions - st.Deletions,
		})
	}

	finishResult(result)
	return result, nil
}

// repositoryStats runs the retrieval cascade for one repository: cache,
// contributor statistics, code frequency estimation, commit sampling. The
// first strategy producing a non-zero result wins, and the outcome is
// written back to the cache either way. A zero result is ambiguous: a user
// who truly contributed nothing and a lookup every strategy failed on are
// reported identically.
func (a *Aggregator) repositoryStats(ctx context.Context, username, fullName string) (domain.ContributionStats, error) {
	if st, ok := a.cache.Get(fullName); ok {
		return st, nil
	}
	a.logger.Printf("  Analyzing: %s", fullName)

	st, err := a.statsFromContributors(ctx, username, fullName)
	if err != nil {
		return st, err
	}
	if st.IsZero() {
		st, err = a.statsFromCodeFrequency(ctx, username, fullName)
		if err != nil {
			return st, err
		}
	}
	if st.IsZero() {
		st, err = a.statsFromCommitSample(ctx, username, fullName)
		if err != nil {
			return st, err
		}
	}

	a.cache.Put(fullName, st)
	return st, nil
}

// statsFromContributors sums the target user's weekly additions and
// deletions from the per-contributor activity endpoint, polling while the
// provider is still computing them. Every terminal irregularity degrades to
// a zero result so the cascade can fall through.
func (a *Aggregator) statsFromContributors(ctx context.Context, username, fullName string) (domain.ContributionStats, error) {
	for attempt := 0; attempt < a.cfg.MaxStatsRetries; attempt++ {
		activities, err := a.fetcher.FetchContributorActivity(ctx, fullName)
		switch {
		case err == nil:
			for _, c := range activities {
				if c.Login != username {
					continue
				}
				var st domain.ContributionStats
				for _, w := range c.Weeks {
					st.Additions += w.Additions
					st.Deletions += w.Deletions
				}
				a.logger.Printf("    Found contributor data: +%d -%d", st.Additions, st.Deletions)
				return st, nil
			}
			return domain.ContributionStats{}, nil
		case errors.Is(err, gateway.ErrStatsPending):
			a.logger.Printf("    Stats computing... waiting %s (attempt %d/%d)", a.cfg.StatsRetryDelay, attempt+1, a.cfg.MaxStatsRetries)
			if err := a.sleep(ctx, a.cfg.StatsRetryDelay); err != nil {
				return domain.ContributionStats{}, err
			}
		case errors.Is(err, gateway.ErrNoData):
			a.logger.Println("    No contributor data available")
			return domain.ContributionStats{}, nil
		case errors.Is(err, gateway.ErrRepoTooLarge):
			a.logger.Println("    Repository too large for contributor stats, trying alternative method")
			return domain.ContributionStats{}, nil
		default:
			if ctx.Err() != nil {
				return domain.ContributionStats{}, ctx.Err()
			}
			a.logger.Printf("    Contributor stats unavailable: %v", err)
			return domain.ContributionStats{}, nil
		}
	}
	a.logger.Printf("    Stats API timeout after %d attempts", a.cfg.MaxStatsRetries)
	return domain.ContributionStats{}, nil
}

// statsFromCodeFrequency estimates the user's share of the repository-wide
// weekly totals. The endpoint has no per-author breakdown, so the user's
// share is approximated as min(sampledCommits/100, 0.5) of the repository
// totals, truncated to whole lines. This is inherent estimation error, not
// attribution: the strategy trades precision for having any answer at all.
func (a *Aggregator) statsFromCodeFrequency(ctx context.Context, username, fullName string) (domain.ContributionStats, error) {
	for attempt := 0; attempt < a.cfg.MaxStatsRetries; attempt++ {
		weeks, err := a.fetcher.FetchCodeFrequency(ctx, fullName)
		switch {
		case err == nil:
			// Repository-wide numbers are only worth scaling if the user
			// authored anything here at all.
			shas, err := a.fetcher.FetchAuthoredCommits(ctx, fullName, username, a.cfg.CommitSampleSize)
			if err != nil {
				if ctx.Err() != nil {
					return domain.ContributionStats{}, ctx.Err()
				}
				return domain.ContributionStats{}, nil
			}
			if len(shas) == 0 {
				return domain.ContributionStats{}, nil
			}

			var additions, deletions int
			for _, w := range weeks {
				additions += w.Additions
				deletions += w.Deletions
			}
			if deletions < 0 {
				deletions = -deletions
			}
			factor := math.Min(float64(len(shas))/100, 0.5)
			st := domain.ContributionStats{
				Additions: int(float64(additions) * factor),
				Deletions: int(float64(deletions) * factor),
			}
			a.logger.Printf("    Estimated from code frequency: +%d -%d", st.Additions, st.Deletions)
			return st, nil
		case errors.Is(err, gateway.ErrStatsPending):
			a.logger.Printf("    Code frequency computing... waiting %s", a.cfg.StatsRetryDelay)
			if err := a.sleep(ctx, a.cfg.StatsRetryDelay); err != nil {
				return domain.ContributionStats{}, err
			}
		default:
			if ctx.Err() != nil {
				return domain.ContributionStats{}, ctx.Err()
			}
			return domain.ContributionStats{}, nil
		}
	}
	return domain.ContributionStats{}, nil
}

// statsFromCommitSample sums exact per-commit stats over at most
// CommitSampleSize recent commits authored by the user. Accurate per commit,
// but it undercounts repositories with a longer authored history than the
// sample; the bound keeps the per-repository request count flat.
func (a *Aggregator) statsFromCommitSample(ctx context.Context, username, fullName string) (domain.ContributionStats, error) {
	shas, err := a.fetcher.FetchAuthoredCommits(ctx, fullName, username, a.cfg.CommitSampleSize)
	if err != nil {
		if ctx.Err() != nil {
			return domain.ContributionStats{}, ctx.Err()
		}
		return domain.ContributionStats{}, nil
	}
	if len(shas) == 0 {
		return domain.ContributionStats{}, nil
	}

	a.logger.Printf("    Sampling %d recent commits...", len(shas))
	var total domain.ContributionStats
	for _, sha := range shas {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		st, err := a.fetcher.FetchCommitStats(ctx, fullName, sha)
		if err != nil {
			a.logger.Printf("    Could not fetch stats for commit %s: %v", sha, err)
			continue
		}
		total.Additions += st.Additions
		total.Deletions += st.Deletions
	}
	if !total.IsZero() {
		a.logger.Printf("    Sample analysis: +%d -%d (from %d commits)", total.Additions, total.Deletions, len(shas))
	}
	return total, nil
}

// finishResult orders the breakdown by additions descending and computes
// the summary statistics over the contributing repositories.
func finishResult(r *domain.AggregateResult) {
	sort.Slice(r.Contributions, func(i, j int) bool {
		if r.Contributions[i].Additions != r.Contributions[j].Additions {
			return r.Contributions[i].Additions > r.Contributions[j].Additions
		}
		return r.Contributions[i].Name < r.Contributions[j].Name
	})
	r.NetLines = r.TotalAdditions - r.TotalDeletions

	if len(r.Contributions) == 0 {
		return
	}
	adds := make([]float64, len(r.Contributions))
	for i, c := range r.Contributions {
		adds[i] = float64(c.Additions)
	}
	mean, err := stats.Mean(adds)
	if err != nil {
		return
	}
	median, err := stats.Median(adds)
	if err != nil {
		return
	}
	r.Summary = &domain.Summary{MeanAdditions: mean, MedianAdditions: median}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
