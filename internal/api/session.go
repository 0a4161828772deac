package api

import (
	"sync"

	"github.com/hitoshi/onthemap/internal/model"
)

// SessionState は現在のログインセッションを保持する。
// セッションは3項目すべてが揃った状態か、完全に空の状態のいずれかしか取らない。
type SessionState struct {
	mu      sync.RWMutex
	session model.Session
	present bool
}

// Get は現在のセッションと、セッションが存在するかを返す。
func (s *SessionState) Get() (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.present
}

// set はセッションを置き換える。不完全なセッションは設定しない。
func (s *SessionState) set(session model.Session) bool {
	if !session.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.present = true
	return true
}

// clear はセッションを破棄する。
func (s *SessionState) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = model.Session{}
	s.present = false
}
