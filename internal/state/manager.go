package state

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"
)

const (
	routerStateFile      = "router_state.json"
	sessionsFile         = "sessions.json"
	archivedSessionsFile = "archived_sessions.json"
)

// ArchivedSession records one retired agent conversation handle. The
// archive is an audit trail; routing never reads it back.
type ArchivedSession struct {
	SessionID string `json:"session_id"`
	ClearedAt string `json:"cleared_at"`
}

// Manager owns the process-wide mutable state: watermarks and the
// folder-to-session-handle map. It is the crash-recovery unit — Load at
// startup, Save at each checkpoint. Only the router mutates it, one group
// at a time; the mutex guards against readers on other goroutines.
type Manager struct {
	dataDir string

	mu         sync.Mutex
	watermarks Watermarks
	sessions   map[string]string
}

func NewManager(dataDir string) *Manager {
	return &Manager{
		dataDir:    dataDir,
		watermarks: NewWatermarks(),
		sessions:   make(map[string]string),
	}
}

// Load restores watermarks and sessions from disk. Missing files leave
// the zero state in place.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wm := NewWatermarks()
	if err := readJSON(filepath.Join(m.dataDir, routerStateFile), &wm); err != nil {
		return fmt.Errorf("load router state: %w", err)
	}
	if wm.PerChat == nil {
		wm.PerChat = make(map[string]string)
	}

	sessions := make(map[string]string)
	if err := readJSON(filepath.Join(m.dataDir, sessionsFile), &sessions); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	m.watermarks = wm
	m.sessions = sessions
	return nil
}

// Save checkpoints watermarks and sessions as one logical unit. Each file
// write is atomic.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveStateLocked(); err != nil {
		return err
	}
	return m.saveSessionsLocked()
}

func (m *Manager) saveStateLocked() error {
	if err := writeJSON(filepath.Join(m.dataDir, routerStateFile), &m.watermarks); err != nil {
		return fmt.Errorf("save router state: %w", err)
	}
	return nil
}

func (m *Manager) saveSessionsLocked() error {
	if err := writeJSON(filepath.Join(m.dataDir, sessionsFile), m.sessions); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

func (m *Manager) GlobalWatermark() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermarks.Global
}

func (m *Manager) AdvanceGlobal(candidate string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermarks.AdvanceGlobal(candidate)
}

func (m *Manager) ChatWatermark(chatJID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermarks.ChatWatermark(chatJID)
}

func (m *Manager) AdvancePerChat(chatJID, candidate string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermarks.AdvancePerChat(chatJID, candidate)
}

// ResolveSession returns the live agent conversation handle for a group
// folder, if any.
func (m *Manager) ResolveSession(folder string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle, ok := m.sessions[folder]
	return handle, ok
}

// UpdateSession replaces a folder's session handle and persists the
// session map immediately. Agent backends may rotate handles within a
// continued conversation, so replacement is unconditional.
func (m *Manager) UpdateSession(folder, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[folder] = handle
	return m.saveSessionsLocked()
}

// ResetSession archives and removes a folder's session handle. Reports
// whether a live session existed; resetting a folder with no session is a
// no-op, not an error.
func (m *Manager) ResetSession(folder string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle, ok := m.sessions[folder]
	if !ok {
		return false, nil
	}

	archivePath := filepath.Join(m.dataDir, archivedSessionsFile)
	archived := make(map[string][]ArchivedSession)
	if err := readJSON(archivePath, &archived); err != nil {
		return false, fmt.Errorf("load archived sessions: %w", err)
	}
	archived[folder] = append(archived[folder], ArchivedSession{
		SessionID: handle,
		ClearedAt: now.UTC().Format(time.RFC3339),
	})
	if err := writeJSON(archivePath, archived); err != nil {
		return false, fmt.Errorf("save archived sessions: %w", err)
	}

	delete(m.sessions, folder)
	if err := m.saveSessionsLocked(); err != nil {
		return false, err
	}
	log.Printf("[state] session for %s archived", folder)
	return true, nil
}

// ArchivedSessions reads the audit trail for one folder.
func (m *Manager) ArchivedSessions(folder string) ([]ArchivedSession, error) {
	archived := make(map[string][]ArchivedSession)
	if err := readJSON(filepath.Join(m.dataDir, archivedSessionsFile), &archived); err != nil {
		return nil, fmt.Errorf("load archived sessions: %w", err)
	}
	return archived[folder], nil
}

// SessionCount reports the number of live sessions (status output).
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
