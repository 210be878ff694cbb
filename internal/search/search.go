package search

// FeedbackRecord is what gets indexed for one feedback row.
type FeedbackRecord struct {
	ID             int64    `json:"id"`
	Type           string   `json:"type"`
	Status         string   `json:"status"`
	Priority       string   `json:"priority"`
	ExternalSource string   `json:"externalSource"`
	Description    string   `json:"description"`
	Email          string   `json:"email"`
	Tags           []string `json:"tags"`
}

// Query describes an id lookup. Empty filters match everything.
type Query struct {
	Text     string
	Type     string
	Status   string
	Priority string
	Limit    int
}

// Searcher returns matching feedback ids in relevance order.
type Searcher interface {
	SearchIDs(q Query) ([]int64, error)
	Healthy() bool
}

// Indexer pushes feedback rows into a search index.
type Indexer interface {
	IndexFeedback(records ...FeedbackRecord) error
	DeleteFeedback(id int64) error
}
