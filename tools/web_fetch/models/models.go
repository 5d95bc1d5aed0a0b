package models

// Result is the readable content of one loaded page.
type Result struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	HTMLHash string `json:"html_hash"`
	Status   int    `json:"status"`
	RenderMS int    `json:"render_ms"`
}
