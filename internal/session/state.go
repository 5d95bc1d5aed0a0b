package session

// State is the position of a conversation within one exchange.
type State int

const (
	AwaitMessage State = iota
	Validating
	Rejected
	Proceeding
	SuggestingQuery
	Searching
	Resolving
	Generating
	Streaming
)

func (s State) String() string {
	switch s {
	case AwaitMessage:
		return "await_message"
	case Validating:
		return "validating"
	case Rejected:
		return "rejected"
	case Proceeding:
		return "proceeding"
	case SuggestingQuery:
		return "suggesting_query"
	case Searching:
		return "searching"
	case Resolving:
		return "resolving"
	case Generating:
		return "generating"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}
