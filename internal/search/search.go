package search

import "time"

// Result is a single message hit returned to the caller.
type Result struct {
	MessageID string    `json:"messageID"`
	ThreadID  string    `json:"threadID"`
	GroupID   string    `json:"groupID"`
	AuthorID  string    `json:"authorID"`
	Snippet   string    `json:"snippet"`
	CreatedAt time.Time `json:"createdTimestamp"`
}

// Query describes a search request.
type Query struct {
	AppID string
	Text  string
	// GroupIDs restricts hits to the viewer's groups; nil means unrestricted.
	GroupIDs []string
	ThreadID string
	AuthorID string
	Limit    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// MessageRecord is the data we index for a message. IDs are external IDs
// except for the primary key.
type MessageRecord struct {
	ID        string `json:"id"`
	AppID     string `json:"appId"`
	GroupID   string `json:"groupId"`
	ThreadID  string `json:"threadId"`
	AuthorID  string `json:"authorId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
}
