package events

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lalithlochan/discordbridge/internal/discord"
	"github.com/lalithlochan/discordbridge/internal/session"
)

const (
	ColorStarted    = 0x5865F2
	ColorPermission = 0xFFA500
	ColorIdle       = 0x57F287
	ColorError      = 0xED4245
	ColorTodo       = 0x99AAB5
)

var (
	userMention = regexp.MustCompile(`^<@!?(\d+)>$`)
	roleMention = regexp.MustCompile(`^<@&(\d+)>$`)
)

// Formatter builds webhook bodies for each notification kind.
type Formatter struct {
	Username  string
	AvatarURL string
	Mention   string // prefixed to permission and idle notifications
	Now       func() time.Time
}

func (f *Formatter) SessionStarted(sessionID, title string) discord.WebhookBody {
	desc := "A new session started."
	if title != "" {
		desc = title
	}
	return f.body("", discord.Embed{
		Title:       "Session started",
		Description: session.Truncate(desc, discord.MaxEmbedDescription),
		Color:       ColorStarted,
	}, sessionID)
}

func (f *Formatter) PermissionRequested(p Permission) discord.WebhookBody {
	embed := discord.Embed{
		Title:       "Permission requested",
		Description: session.Truncate(p.Title, discord.MaxEmbedDescription),
		Color:       ColorPermission,
	}
	if p.Type != "" {
		embed.Fields = append(embed.Fields, field("Type", p.Type, true))
	}
	if len(p.Pattern) > 0 {
		embed.Fields = append(embed.Fields, field("Pattern", "`"+p.Pattern.String()+"`", false))
	}
	return f.body(f.Mention, embed, p.SessionID)
}

func (f *Formatter) SessionIdle(sessionID, title, lastText string) discord.WebhookBody {
	desc := strings.TrimSpace(lastText)
	if desc == "" {
		desc = "The session is waiting for input."
	}
	embed := discord.Embed{
		Title:       "Session idle",
		Description: session.Truncate(desc, discord.MaxEmbedDescription),
		Color:       ColorIdle,
	}
	if title != "" {
		embed.Fields = append(embed.Fields, field("Session", title, false))
	}
	return f.body(f.Mention, embed, sessionID)
}

func (f *Formatter) SessionError(sessionID string, e *SessionError) discord.WebhookBody {
	name, msg := "Error", "The session reported an error."
	if e != nil {
		if e.Name != "" {
			name = e.Name
		}
		if e.Data.Message != "" {
			msg = e.Data.Message
		}
	}
	return f.body("", discord.Embed{
		Title:       session.Truncate("Session error: "+name, discord.MaxEmbedTitle),
		Description: session.Truncate(msg, discord.MaxEmbedDescription),
		Color:       ColorError,
	}, sessionID)
}

func (f *Formatter) TodoUpdated(sessionID string, todos []Todo) discord.WebhookBody {
	done := 0
	lines := make([]string, 0, len(todos))
	for _, t := range todos {
		if t.Status == TodoCompleted {
			done++
		}
		lines = append(lines, checkbox(t.Status)+" "+t.Content)
	}
	desc := strings.Join(lines, "\n")
	if desc == "" {
		desc = "No todos."
	}
	return f.body("", discord.Embed{
		Title:       fmt.Sprintf("Todo list (%d/%d done)", done, len(todos)),
		Description: session.Truncate(desc, discord.MaxEmbedDescription),
		Color:       ColorTodo,
	}, sessionID)
}

func checkbox(status string) string {
	switch status {
	case TodoCompleted:
		return "[x]"
	case TodoInProgress:
		return "[~]"
	case TodoCancelled:
		return "[-]"
	default:
		return "[ ]"
	}
}

func (f *Formatter) body(mention string, embed discord.Embed, sessionID string) discord.WebhookBody {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	embed.Timestamp = now().UTC().Format(time.RFC3339)
	if sessionID != "" {
		embed.Footer = &discord.EmbedFooter{Text: "session " + sessionID}
	}

	b := discord.WebhookBody{
		Username:  f.Username,
		AvatarURL: f.AvatarURL,
		Embeds:    []discord.Embed{embed},
		// nothing pings unless a mention is configured
		AllowedMentions: &discord.AllowedMentions{Parse: []string{}},
	}
	if mention != "" {
		b.Content = session.Truncate(mention, discord.MaxContentLength)
		b.AllowedMentions = allowedMentions(mention)
	}
	return b
}

func allowedMentions(mention string) *discord.AllowedMentions {
	m := strings.TrimSpace(mention)
	switch {
	case m == "@everyone" || m == "@here":
		return &discord.AllowedMentions{Parse: []string{"everyone"}}
	case userMention.MatchString(m):
		return &discord.AllowedMentions{Parse: []string{}, Users: []string{userMention.FindStringSubmatch(m)[1]}}
	case roleMention.MatchString(m):
		return &discord.AllowedMentions{Parse: []string{}, Roles: []string{roleMention.FindStringSubmatch(m)[1]}}
	}
	return &discord.AllowedMentions{Parse: []string{}}
}

func field(name, value string, inline bool) discord.EmbedField {
	return discord.EmbedField{
		Name:   session.Truncate(name, discord.MaxFieldName),
		Value:  session.Truncate(value, discord.MaxFieldValue),
		Inline: inline,
	}
}
