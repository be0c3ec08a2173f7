package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultResource     ResultType = "resource"
	ResultAnnouncement ResultType = "announcement"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	Category string     `json:"category,omitempty"`
	URL      string     `json:"url,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterCategory string     // resource category, empty = all
	Limit          int
	Offset         int
	IncludePremium bool // false hides premium-category resources
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexResource(r ResourceRecord) error
	IndexAnnouncement(a AnnouncementRecord) error
	DeleteResource(id string) error
	DeleteAnnouncement(id string) error
}

// ResourceRecord is the data we index for a study resource.
type ResourceRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	URL         string `json:"url"`
}

// AnnouncementRecord is the data we index for an announcement.
type AnnouncementRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}
