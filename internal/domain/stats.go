// Package domain contains the core data structures and domain logic for the application.
package domain

// Repository identifies one repository visible to the authenticated user.
// Instances are immutable once fetched from the repository listing.
type Repository struct {
	FullName string // "owner/name", the unique key
	Fork     bool
	Size     int // size reported by the API; 0 means the repository is empty
}

// ContributionStats holds the line counts attributed to the target user for
// a single repository. It is the core domain entity of this application.
type ContributionStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// IsZero reports whether no contribution was found. A repository where the
// user genuinely contributed nothing looks the same as a failed lookup.
func (s ContributionStats) IsZero() bool {
	return s.Additions == 0 && s.Deletions == 0
}

// WeeklyDelta is one week of addition/deletion counts. For the code
// frequency endpoint the deletion count is negative, as reported by the API.
type WeeklyDelta struct {
	Additions int
	Deletions int
}

// ContributorActivity is a single contributor's weekly activity within a
// repository, as returned by the contributor statistics endpoint.
type ContributorActivity struct {
	Login string
	Weeks []WeeklyDelta
}

// RepoContribution is one row of the per-repository breakdown.
type RepoContribution struct {
	Name      string `json:"name"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	NetLines  int    `json:"net_lines"`
}

// Summary holds aggregate statistics over the contributing repositories.
type Summary struct {
	MeanAdditions   float64 `json:"mean_additions"`
	MedianAdditions float64 `json:"median_additions"`
}

// AggregateResult is the final report of a full analysis run. Only
// repositories with a non-zero contribution appear in Contributions, ordered
// by additions descending.
type AggregateResult struct {
	TotalAdditions       int                `json:"total_additions"`
	TotalDeletions       int                `json:"total_deletions"`
	NetLines             int                `json:"net_lines"`
	RepositoriesFound    int                `json:"repositories_found"`
	RepositoriesAnalyzed int                `json:"repositories_analyzed"`
	Contributions        []RepoContribution `json:"contributions"`
	Summary              *Summary           `json:"summary,omitempty"`
}
