package position

// Source names where an emission came from.
type Source string

const (
	SourceStabilizer Source = "stabilizer" // confirmed by the sample/confirm cycle
	SourceFeed       Source = "feed"       // pushed by a network feed, emitted as-is
)

// Emission is the unit published to consumers: one per confirmed change.
type Emission struct {
	ID        string   `json:"id"` // UUIDv7
	PageID    string   `json:"page_id"`
	Seq       uint64   `json:"seq"` // monotonically increasing per watcher
	Raw       string   `json:"raw"`
	Position  Position `json:"position"`
	Source    Source   `json:"source"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds
}
