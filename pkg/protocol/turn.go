package protocol

// Conversation roles. The companion speaks as "user", the guide replies as
// "assistant"; "system" seeds the persona prompt.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry in a conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
