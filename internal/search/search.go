package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultCase     ResultType = "case"
	ResultClient   ResultType = "client"
	ResultDocument ResultType = "document"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	CaseID  string     `json:"caseId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	// ClientID scopes results to one client's cases and documents. Client
	// records are never returned for a scoped query.
	ClientID string
	Limit    int
	Offset   int
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
	IndexCase(c CaseRecord) error
	IndexClient(c ClientRecord) error
	IndexDocument(d DocumentRecord) error
	DeleteCase(id string) error
	DeleteDocument(id string) error
}

// CaseRecord is the data we index for a case.
type CaseRecord struct {
	ID            string `json:"id"`
	Number        string `json:"caseNumber"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	CaseType      string `json:"caseType"`
	Status        string `json:"status"`
	OpposingParty string `json:"opposingParty"`
	ClientID      string `json:"clientId"`
	ClientName    string `json:"clientName"`
}

// ClientRecord is the data we index for a client.
type ClientRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// DocumentRecord is the data we index for an uploaded document.
type DocumentRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	CaseID      string `json:"caseId"`
	ClientID    string `json:"clientId"`
	Archived    bool   `json:"archived"`
}
