package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultRFI      ResultType = "rfi"
	ResultTender   ResultType = "tender"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId"`
	Status    string     `json:"status,omitempty"`
}

// Query describes a search request. ProjectIDs is the caller's access scope;
// an empty scope matches nothing.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID string     // narrow to one project within scope
	ProjectIDs      []string
	Limit           int
	Offset          int
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
	IndexDocument(doc DocumentRecord) error
	IndexRFI(r RFIRecord) error
	IndexTender(t TenderRecord) error
	DeleteDocument(id string) error
}

// DocumentRecord is the data we index for an uploaded document.
type DocumentRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	FileName  string `json:"fileName"`
	Category  string `json:"category"`
	ProjectID string `json:"projectId"`
}

// RFIRecord is the data we index for a request for information.
type RFIRecord struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Subject   string `json:"subject"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	ProjectID string `json:"projectId"`
	Status    string `json:"status"`
}

// TenderRecord is the data we index for a tender package.
type TenderRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ProjectID   string `json:"projectId"`
	Status      string `json:"status"`
}
