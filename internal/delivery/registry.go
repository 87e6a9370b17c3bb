package delivery

import (
	"context"
	"sync"

	"github.com/clinicdesk/messaging/internal/observability"
	"go.uber.org/zap"
)

// Registry tracks open sessions by user and device. One device holds at
// most one session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Session),
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	old := r.sessions[s.UserID][s.DeviceID]
	if r.sessions[s.UserID] == nil {
		r.sessions[s.UserID] = make(map[string]*Session)
	}
	r.sessions[s.UserID][s.DeviceID] = s
	r.mu.Unlock()

	// Closed outside the lock; the old read loop calls Remove on its way out.
	if old != nil {
		observability.GetLogger(context.Background()).Info("session replaced",
			zap.String("user_id", s.UserID),
			zap.String("device_id", s.DeviceID),
			zap.String("old_sid", old.ID),
			zap.String("new_sid", s.ID),
		)
		old.CloseWithReason(4000, "session_replaced")
	}
}

func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if devices, ok := r.sessions[s.UserID]; ok {
		// A late Remove from a replaced session must not evict its successor.
		if current, ok := devices[s.DeviceID]; ok && current.ID == s.ID {
			delete(devices, s.DeviceID)
			if len(devices) == 0 {
				delete(r.sessions, s.UserID)
			}
		}
	}
}

func (r *Registry) GetUserSessions(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Session
	for _, s := range r.sessions[userID] {
		result = append(result, s)
	}
	return result
}

func (r *Registry) CloseAll() {
	r.mu.RLock()
	var all []*Session
	for _, devices := range r.sessions {
		for _, s := range devices {
			all = append(all, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range all {
		s.Close()
	}
}
