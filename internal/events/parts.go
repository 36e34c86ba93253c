package events

import "sync"

// PartBuffer remembers the latest assistant text per session, so the idle
// notification can quote what the assistant last said.
type PartBuffer struct {
	mu      sync.Mutex
	roles   map[string]string // message id -> role
	text    map[string]string // message id -> latest text
	last    map[string]string // session id -> last assistant message id
	session map[string]string // message id -> session id
}

func NewPartBuffer() *PartBuffer {
	return &PartBuffer{
		roles:   make(map[string]string),
		text:    make(map[string]string),
		last:    make(map[string]string),
		session: make(map[string]string),
	}
}

func (b *PartBuffer) SetMessage(m MessageInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roles[m.ID] = m.Role
	b.session[m.ID] = m.SessionID
	if m.Role == "assistant" {
		b.last[m.SessionID] = m.ID
	}
}

// SetPart stores the text of an assistant text part. Parts of other roles or
// types are ignored. Parts that arrive before their message are kept.
func (b *PartBuffer) SetPart(p Part) {
	if p.Type != "text" || p.MessageID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if role, ok := b.roles[p.MessageID]; ok && role != "assistant" {
		return
	}
	b.text[p.MessageID] = p.Text
	b.session[p.MessageID] = p.SessionID
	if _, known := b.roles[p.MessageID]; known {
		b.last[p.SessionID] = p.MessageID
	}
}

// LastText returns the latest assistant text of the session.
func (b *PartBuffer) LastText(sessionID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text[b.last[sessionID]]
}

// Forget drops everything buffered for a session.
func (b *PartBuffer) Forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.session {
		if s == sessionID {
			delete(b.session, id)
			delete(b.roles, id)
			delete(b.text, id)
		}
	}
	delete(b.last, sessionID)
}
