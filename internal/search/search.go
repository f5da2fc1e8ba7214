// Package search provides admin full-text search over requests: Meilisearch
// when configured and healthy, plain Postgres matching otherwise.
package search

// RequestRecord is the indexed projection of a request.
type RequestRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Location    string `json:"location"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	DisplayName string `json:"displayName"`
	SubmittedAt int64  `json:"submittedAt"`
}

type Query struct {
	Text     string
	Status   string
	Category string
	Limit    int
	Offset   int
}

type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}
