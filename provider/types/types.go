package types

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream yields completion fragments in arrival order. Recv returns io.EOF once the
// completion is finished.
type Stream interface {
	Recv() (string, error)
	Close() error
}
