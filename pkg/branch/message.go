package branch

import "github.com/grovechat/grove/pkg/api"

// Message is one display entry of a branch path. Pending marks an
// optimistic entry that the server has not confirmed yet; its content may
// only change while Pending is true.
type Message struct {
	Role        string
	Content     string
	Attachments []api.Attachment
	Pending     bool
}

// Roles as the wire protocol names them.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// NewUserMessage builds a pending user entry.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Pending: true}
}

// NewAssistantPlaceholder builds the empty pending assistant entry that
// streamed tokens accumulate into.
func NewAssistantPlaceholder() Message {
	return Message{Role: RoleAssistant, Pending: true}
}

// fromPathMessages converts wire path entries into confirmed display
// messages.
func fromPathMessages(path []api.PathMessage) []Message {
	msgs := make([]Message, 0, len(path))
	for _, p := range path {
		msgs = append(msgs, Message{
			Role:        p.Role,
			Content:     p.Content,
			Attachments: p.Attachments,
		})
	}
	return msgs
}
