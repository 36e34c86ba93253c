// Package discord posts messages to a Discord channel webhook.
package discord

// Discord limits enforced by the formatter before a body is queued.
const (
	MaxContentLength    = 2000
	MaxEmbedTitle       = 256
	MaxEmbedDescription = 4096
	MaxFieldName        = 256
	MaxFieldValue       = 1024
	MaxEmbedFields      = 25
	MaxThreadNameLength = 100
	MaxEmbedsPerMessage = 10
)

// WebhookBody is the JSON body of an execute-webhook call.
type WebhookBody struct {
	Content         string           `json:"content,omitempty"`
	Username        string           `json:"username,omitempty"`
	AvatarURL       string           `json:"avatar_url,omitempty"`
	ThreadName      string           `json:"thread_name,omitempty"`
	Embeds          []Embed          `json:"embeds,omitempty"`
	AllowedMentions *AllowedMentions `json:"allowed_mentions,omitempty"`
}

// Embed is a rich message card.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"` // RFC 3339
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// AllowedMentions restricts which mentions in Content actually ping.
type AllowedMentions struct {
	Parse []string `json:"parse"`
	Users []string `json:"users,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// PostRequest is one execute-webhook call.
type PostRequest struct {
	WebhookURL string
	ThreadID   string // post into an existing thread when set
	Wait       bool   // ask Discord to return the created message
	Body       WebhookBody
}

// PostResult is returned for wait=true calls that produced a message.
type PostResult struct {
	ID        string // message id
	ChannelID string // thread id when the call created a thread
}
