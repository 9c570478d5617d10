package domain

// ChatMessage is a single role-tagged message of a completion conversation.
// The field names follow the Foundation Models completion API.
type ChatMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)
