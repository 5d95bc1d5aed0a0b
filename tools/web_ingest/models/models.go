package models

// Outcome is the result of ingesting one page. Err is nil on success.
type Outcome struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Status   int    `json:"status,omitempty"`
	HTMLHash string `json:"html_hash,omitempty"`
	RenderMS int    `json:"render_ms"`
	Chunks   int    `json:"chunks"`
	Err      error  `json:"-"`
}

// IngestReport describes one pipeline run. Partial success is normal: failed pages
// are recorded and skipped.
type IngestReport struct {
	Outcomes []Outcome `json:"outcomes"`
	Chunks   int       `json:"chunks"`
	SaveErr  error     `json:"-"`
}

func (r IngestReport) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

func (r IngestReport) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}
