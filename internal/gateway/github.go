// Package gateway provides a gateway to the GitHub REST API,
// abstracting away the underlying client and its rate-limit handling.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/naka-gawa/github-loc/internal/domain"
)

const perPage = 100

// The statistics endpoints compute their answers asynchronously server-side.
// These sentinels classify the non-200 outcomes a caller has to distinguish.
var (
	// ErrStatsPending means the API answered 202: the requested statistics
	// are still being computed and the call should be retried later.
	ErrStatsPending = errors.New("statistics are still being computed")
	// ErrNoData means the API answered 204 or an empty body: the repository
	// has no data for this endpoint.
	ErrNoData = errors.New("no statistics available")
	// ErrRepoTooLarge means the API answered 422: the repository exceeds
	// the size this endpoint is willing to compute statistics for.
	ErrRepoTooLarge = errors.New("repository too large for statistics")
)

// Fetcher defines the behavior of a gateway for fetching information from GitHub.
type Fetcher interface {
	ResolveUsername(ctx context.Context) (string, error)
	FetchAllRepositories(ctx context.Context) ([]domain.Repository, error)
	FetchContributorActivity(ctx context.Context, fullName string) ([]domain.ContributorActivity, error)
	FetchCodeFrequency(ctx context.Context, fullName string) ([]domain.WeeklyDelta, error)
	FetchAuthoredCommits(ctx context.Context, fullName, author string, limit int) ([]string, error)
	FetchCommitStats(ctx context.Context, fullName, sha string) (domain.ContributionStats, error)
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient *github.Client
	logger     *log.Logger
}

// NewGitHubGateway builds a gateway whose requests carry the token, are
// paced to one request per requestDelay, and transparently wait out both
// primary and secondary rate limits.
func NewGitHubGateway(token string, requestDelay time.Duration, logger *log.Logger) (*GitHubGateway, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base: &rateLimitTransport{
				base:    rateLimitWaiter,
				limiter: rate.NewLimiter(rate.Every(requestDelay), 1),
				logger:  logger,
				now:     time.Now,
				sleep:   sleepContext,
			},
			Source: ts,
		},
	}
	return &GitHubGateway{
		restClient: github.NewClient(httpClient),
		logger:     logger,
	}, nil
}

// ResolveUsername returns the login of the token's owner.
func (g *GitHubGateway) ResolveUsername(ctx context.Context) (string, error) {
	user, _, err := g.restClient.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("failed to resolve authenticated user: %w", err)
	}
	return user.GetLogin(), nil
}

// FetchAllRepositories lists every repository visible to the authenticated
// user: the personal listing plus the repositories of every organization the
// user belongs to, deduplicated by full name with the first occurrence kept.
func (g *GitHubGateway) FetchAllRepositories(ctx context.Context) ([]domain.Repository, error) {
	g.logger.Println("Fetching personal repositories...")
	repos, err := g.fetchUserRepositories(ctx)
	if err != nil {
		return nil, err
	}

	g.logger.Println("Fetching organization repositories...")
	orgs, _, err := g.restClient.Organizations.List(ctx, "", &github.ListOptions{PerPage: perPage})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Organization access is optional for a token; the personal
		// listing alone is still a useful run.
		g.logger.Printf("Could not list organizations: %v", err)
	}
	for _, org := range orgs {
		login := org.GetLogin()
		g.logger.Printf("  Fetching repos for organization: %s", login)
		orgRepos, err := g.fetchOrgRepositories(ctx, login)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logger.Printf("  Could not list repos for %s: %v", login, err)
			continue
		}
		repos = append(repos, orgRepos...)
	}

	seen := make(map[string]bool, len(repos))
	unique := make([]domain.Repository, 0, len(repos))
	for _, r := range repos {
		if seen[r.FullName] {
			continue
		}
		seen[r.FullName] = true
		unique = append(unique, r)
	}
	g.logger.Printf("Found %d unique repositories", len(unique))
	return unique, nil
}

func (g *GitHubGateway) fetchUserRepositories(ctx context.Context) ([]domain.Repository, error) {
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Type:        "all",
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	var out []domain.Repository
	for {
		repos, resp, err := g.restClient.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A failed page is a soft stop: keep what we have.
			g.logger.Printf("Could not fetch repositories: %v", err)
			return out, nil
		}
		for _, r := range repos {
			out = append(out, toDomainRepository(r))
		}
		if len(repos) == 0 || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		g.logger.Printf("  Fetched page %d, total repositories: %d", opts.Page-1, len(out))
	}
	return out, nil
}

func (g *GitHubGateway) fetchOrgRepositories(ctx context.Context, org string) ([]domain.Repository, error) {
	opts := &github.RepositoryListByOrgOptions{
		Type:        "all",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	var out []domain.Repository
	for {
		repos, resp, err := g.restClient.Repositories.ListByOrg(ctx, org, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logger.Printf("  Could not fetch repositories for %s: %v", org, err)
			return out, nil
		}
		for _, r := range repos {
			out = append(out, toDomainRepository(r))
		}
		if len(repos) == 0 || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// FetchContributorActivity returns the per-contributor weekly activity for a
// repository, or one of the stats sentinel errors.
func (g *GitHubGateway) FetchContributorActivity(ctx context.Context, fullName string) ([]domain.ContributorActivity, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}
	contributors, resp, err := g.restClient.Repositories.ListContributorsStats(ctx, owner, name)
	if err := classifyStatsError(resp, err); err != nil {
		return nil, err
	}
	if len(contributors) == 0 {
		return nil, ErrNoData
	}
	out := make([]domain.ContributorActivity, 0, len(contributors))
	for _, c := range contributors {
		activity := domain.ContributorActivity{Login: c.GetAuthor().GetLogin()}
		for _, w := range c.Weeks {
			activity.Weeks = append(activity.Weeks, domain.WeeklyDelta{
				Additions: w.GetAdditions(),
				Deletions: w.GetDeletions(),
			})
		}
		out = append(out, activity)
	}
	return out, nil
}

// FetchCodeFrequency returns the repository-wide weekly addition/deletion
// totals, or one of the stats sentinel errors. Deletions are negative, as
// reported by the endpoint.
func (g *GitHubGateway) FetchCodeFrequency(ctx context.Context, fullName string) ([]domain.WeeklyDelta, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}
	weeks, resp, err := g.restClient.Repositories.ListCodeFrequency(ctx, owner, name)
	if err := classifyStatsError(resp, err); err != nil {
		return nil, err
	}
	if len(weeks) == 0 {
		return nil, ErrNoData
	}
	out := make([]domain.WeeklyDelta, 0, len(weeks))
	for _, w := range weeks {
		out = append(out, domain.WeeklyDelta{
			Additions: w.GetAdditions(),
			Deletions: w.GetDeletions(),
		})
	}
	return out, nil
}

// FetchAuthoredCommits lists the SHAs of up to limit recent commits authored
// by the given user in the repository.
func (g *GitHubGateway) FetchAuthoredCommits(ctx context.Context, fullName, author string, limit int) ([]string, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}
	commits, _, err := g.restClient.Repositories.ListCommits(ctx, owner, name, &github.CommitsListOptions{
		Author:      author,
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list commits for %s: %w", fullName, err)
	}
	shas := make([]string, 0, len(commits))
	for _, c := range commits {
		if sha := c.GetSHA(); sha != "" {
			shas = append(shas, sha)
		}
	}
	return shas, nil
}

// FetchCommitStats returns the exact addition/deletion counts of one commit.
func (g *GitHubGateway) FetchCommitStats(ctx context.Context, fullName, sha string) (domain.ContributionStats, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return domain.ContributionStats{}, err
	}
	commit, _, err := g.restClient.Repositories.GetCommit(ctx, owner, name, sha, nil)
	if err != nil {
		return domain.ContributionStats{}, fmt.Errorf("failed to fetch commit %s: %w", sha, err)
	}
	stats := commit.GetStats()
	return domain.ContributionStats{
		Additions: stats.GetAdditions(),
		Deletions: stats.GetDeletions(),
	}, nil
}

func toDomainRepository(r *github.Repository) domain.Repository {
	return domain.Repository{
		FullName: r.GetFullName(),
		Fork:     r.GetFork(),
		Size:     r.GetSize(),
	}
}

// classifyStatsError maps the asynchronous statistics endpoints' outcomes
// onto the gateway's sentinel errors.
func classifyStatsError(resp *github.Response, err error) error {
	if err == nil {
		if resp != nil && resp.StatusCode == http.StatusNoContent {
			return ErrNoData
		}
		return nil
	}
	var accepted *github.AcceptedError
	if errors.As(err, &accepted) {
		return ErrStatsPending
	}
	var apiErr *github.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil && apiErr.Response.StatusCode == http.StatusUnprocessableEntity {
		return ErrRepoTooLarge
	}
	return err
}

func splitFullName(fullName string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("malformed repository name %q", fullName)
	}
	return owner, name, nil
}
