package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultTask ResultType = "task"
	ResultArea ResultType = "area"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type            ResultType `json:"type"`
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Snippet         string     `json:"snippet"`
	Status          string     `json:"status,omitempty"`
	SprintID        string     `json:"sprintId,omitempty"`
	LifeWheelAreaID string     `json:"lifeWheelAreaId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterStatus   string
	FilterSprintID string
	Limit          int
	Offset         int
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
	IndexTask(t TaskRecord) error
	IndexArea(a AreaRecord) error
	DeleteTask(id string) error
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	SprintID        string `json:"sprintId"`
	LifeWheelAreaID string `json:"lifeWheelAreaId"`
}

// AreaRecord is the data we index for a life-wheel area.
type AreaRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}
