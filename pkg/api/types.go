package api

// Tree is one conversation tree as the server reports it.
type Tree struct {
	ID    string  `json:"id"`
	Title *string `json:"title,omitempty"`
}

// Attachment is file metadata carried opaquely on path messages.
type Attachment struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	Status       string `json:"status"`
	DownloadURL  string `json:"download_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// PathMessage is one entry of an ancestor path, root-to-leaf order.
type PathMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type pathResponse struct {
	Path []PathMessage `json:"path"`
}

// GraphNode is one message node in a tree's graph view.
type GraphNode struct {
	ID        string  `json:"id"`
	Role      string  `json:"role"`
	Label     string  `json:"label"`
	ParentID  *string `json:"parent_id"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// GraphEdge is a derived parent -> child edge.
type GraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the full node/edge set for one tree.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// ForkResult is the outcome of forking a branch into a new tree.
type ForkResult struct {
	Tree         Tree   `json:"tree"`
	ActiveNodeID string `json:"active_node_id"`
}

// MessageRequest is the body for both streaming and non-streaming sends.
type MessageRequest struct {
	TreeID   string  `json:"tree_id"`
	ParentID *string `json:"parent_id,omitempty"`
	Content  string  `json:"content"`
}

// Frame types of the newline-delimited stream protocol.
const (
	FrameStart = "start"
	FrameToken = "token"
	FrameEnd   = "end"
	FrameError = "error"
)

// Frame is one parsed line of a streaming response. Err is set client-side
// for transport failures, protocol violations, and cancellation; it is
// never populated from the wire.
type Frame struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id,omitempty"`
	Delta       string `json:"delta,omitempty"`
	AssistantID string `json:"assistant_id,omitempty"`
	Content     string `json:"content,omitempty"`
	Message     string `json:"message,omitempty"`

	Err error `json:"-"`
}
