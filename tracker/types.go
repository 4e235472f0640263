package tracker

// Issue is the subset of a tracker issue this service consumes.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// IssueFields holds the issue fields requested on every search.
type IssueFields struct {
	Created     string       `json:"created"`
	Summary     string       `json:"summary"`
	Description string       `json:"description"`
	Environment string       `json:"environment"`
	Labels      []string     `json:"labels"`
	Status      Status       `json:"status"`
	FixVersions []FixVersion `json:"fixVersions"`
}

// Status is an issue's workflow state.
type Status struct {
	Name string `json:"name"`
}

// FixVersion is a named release an issue was fixed in.
type FixVersion struct {
	Name string `json:"name"`
}

// SearchResult is one page of a JQL search response.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// Sprint is one entry of the agile board's sprint listing.
type Sprint struct {
	Name  string `json:"name"`
	State string `json:"state"`
}
