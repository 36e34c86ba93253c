// Package session tracks which Discord thread belongs to which host session.
package session

import (
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/discord"
)

// Registry maps session ids to thread ids and titles. It is in-memory only;
// rows already in the queue keep their thread ids across restarts.
type Registry struct {
	mu      sync.RWMutex
	threads map[string]string
	titles  map[string]string
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		threads: make(map[string]string),
		titles:  make(map[string]string),
		logger:  logger,
	}
}

// ThreadID returns the thread created for sessionID, if any.
func (r *Registry) ThreadID(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.threads[sessionID]
	return id, ok
}

// OnThreadCreated records the thread the worker just created.
func (r *Registry) OnThreadCreated(sessionID, threadID string) {
	r.mu.Lock()
	prev, existed := r.threads[sessionID]
	r.threads[sessionID] = threadID
	r.mu.Unlock()

	if existed && prev != threadID {
		r.logger.Warn("session thread replaced",
			zap.String("session_id", sessionID),
			zap.String("previous_thread_id", prev),
			zap.String("thread_id", threadID),
		)
		return
	}
	r.logger.Info("session thread created",
		zap.String("session_id", sessionID),
		zap.String("thread_id", threadID),
	)
}

func (r *Registry) SetTitle(sessionID, title string) {
	if title == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles[sessionID] = title
}

func (r *Registry) Title(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.titles[sessionID]
	return t, ok
}

// ThreadName names a new thread after the session title, falling back to
// "Session <first 8 chars of id>".
func (r *Registry) ThreadName(sessionID string) string {
	name, ok := r.Title(sessionID)
	if !ok {
		short := sessionID
		if len(short) > 8 {
			short = short[:8]
		}
		name = "Session " + short
	}
	return Truncate(name, discord.MaxThreadNameLength)
}

// Truncate shortens s to at most max runes, ending with "..." when cut.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}
