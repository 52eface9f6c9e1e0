package protocol

// Run statuses reported by the remote assistant protocol. A run moves
// strictly forward; requires_action must be fully answered before the next
// poll can observe completed or a further requires_action.
const (
	RunQueued         = "queued"
	RunInProgress     = "in_progress"
	RunRequiresAction = "requires_action"
	RunCompleted      = "completed"
	RunFailed         = "failed"
	RunCancelled      = "cancelled"
	RunExpired        = "expired"
)

// Run is the locally tracked reference to a remote run. Status is polled,
// never computed locally.
type Run struct {
	ID           string
	ThreadID     string
	Status       string
	PendingCalls []ToolCall // populated only when Status is requires_action
	LastError    string     // populated when Status is failed
}

// ThreadMessage is one entry of a remote thread listing, with typed content
// blocks. Listings arrive newest-first.
type ThreadMessage struct {
	Role    string
	Content []ContentBlock
}

// ContentBlock is a single typed content block; only "text" blocks carry a
// usable body.
type ContentBlock struct {
	Type string
	Text string
}
