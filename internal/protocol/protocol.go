// Package protocol holds the wire format of the session channel: the inbound request
// and the ordered text fragments sent back.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/groundchat/provider/types"
)

// Sentinel fragments. Each is sent as its own frame.
const (
	StreamOpen                   = "<STREAM_OPEN>"
	StreamClose                  = "<STREAM_CLOSE>"
	DebugInfo                    = "<DEBUG_INFO>"
	CreateAskWithNoSnippetButton = "<CREATE_ASK_WITH_NO_SNIPPET_BUTTON>"
	RelatedQuestion              = "<RELATED_QUESTION>"
)

// User-visible texts.
const (
	RejectOldVersion   = "Request rejected: Old version - Please check it out new version in Swesh Public."
	RejectUnparseable  = "Request rejected: Unreadable request - Please send a JSON message with a non-empty thread."
	MissingUserNotice  = "Using custom client? - Please request with UserID."
	ErrorShort         = "Error."
	TerminatedNotice   = "<color=#f00>[ERR]</color> Sorry, something went wrong. TERMINATED."
	SuggestingQuery    = "GPT suggesting investigate query ...\n"
	SearchingNotice    = "Google ... "
	DoneNotice         = "Done.\n"
	StoreBuiltNotice   = "Completed build VectorStore."
	LegacyEndpointText = `Thank you for using resonite ChatGPT. You using old client and this API endpoint was abandoned. Please check it out new client in "Swesh. Public".`
)

var (
	ErrUnparseable     = errors.New("protocol: unparseable request")
	ErrVersionMismatch = errors.New("protocol: unsupported version")
)

func Warn(msg string) string { return "<color=#ff0>[WARN]</color> " + msg }

func Suggested(query string) string { return fmt.Sprintf("GPT suggested: %s\n", query) }

type Message = types.Message

// Version accepts a JSON string or number, so 2.4 and "2.4" compare equal.
type Version string

func (v *Version) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Version(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*v = Version(n.String())
	return nil
}

// Request is one inbound exchange.
type Request struct {
	Version Version   `json:"version"`
	User    string    `json:"user,omitempty"`
	Google  bool      `json:"google,omitempty"`
	Model   string    `json:"model,omitempty"`
	Thread  []Message `json:"thread"`
}

func (r Request) HasUser() bool { return strings.TrimSpace(r.User) != "" }

// Split returns the thread without its last message, and that message.
func (r Request) Split() ([]Message, Message) {
	n := len(r.Thread)
	if n == 0 {
		return nil, Message{}
	}
	head := make([]Message, n-1)
	copy(head, r.Thread[:n-1])
	return head, r.Thread[n-1]
}

// Decode parses and validates one inbound frame. The version must equal accepted
// exactly.
func Decode(raw []byte, accepted string) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if string(req.Version) != accepted {
		return req, fmt.Errorf("%w: %q", ErrVersionMismatch, req.Version)
	}
	if len(req.Thread) == 0 {
		return req, fmt.Errorf("%w: empty thread", ErrUnparseable)
	}
	return req, nil
}
