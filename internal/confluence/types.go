package confluence

import "time"

// Space describes one knowledge space.
type Space struct {
	Key  string
	Name string
	Type string
}

// PageHeader is the cheap listing form of a page: enough to diff against
// the sync ledger without fetching bodies.
type PageHeader struct {
	ID           string
	Title        string
	Version      int
	LastModified time.Time
	URL          string
}

// Page is an immutable snapshot of one page version with its body already
// normalized to plain text.
type Page struct {
	ID           string
	SpaceKey     string
	Title        string
	Body         string
	Version      int
	LastModified time.Time
	URL          string
}

// LexicalHit is one result of the wiki's native text search.
type LexicalHit struct {
	PageID  string
	Title   string
	Snippet string
	Score   float64
}

// Attachment describes a file attached to a page.
type Attachment struct {
	ID        string
	Title     string
	MediaType string
	Download  string
}
