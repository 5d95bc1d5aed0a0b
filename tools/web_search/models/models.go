package models

// SearchResult is everything extracted from one search query.
type SearchResult struct {
	Featured         *FeaturedSnippet `json:"featured,omitempty"`
	Links            []string         `json:"links"`
	RelatedQuestions []string         `json:"related_questions"`
}

// HasSnippet reports whether a quotable answer block was found.
func (r SearchResult) HasSnippet() bool {
	return r.Featured != nil && r.Featured.Content != ""
}

// FeaturedSnippet is a directly quotable answer block. Content holds sanitised table
// markup when IsTable is set, plain text otherwise.
type FeaturedSnippet struct {
	Content string `json:"content"`
	IsTable bool   `json:"is_table,omitempty"`
	Source  Source `json:"source"`
}

// Source attributes a snippet. Empty fields mean the page did not expose them.
type Source struct {
	Name string `json:"name,omitempty"`
	Link string `json:"link,omitempty"`
}
