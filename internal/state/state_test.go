package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWatermarks_MonotonicGlobal(t *testing.T) {
	wm := NewWatermarks()

	if !wm.AdvanceGlobal("2026-03-01T10:00:00.000Z") {
		t.Error("first advance should move the watermark")
	}
	if wm.AdvanceGlobal("2026-03-01T09:00:00.000Z") {
		t.Error("advance to an earlier timestamp should be rejected")
	}
	if wm.AdvanceGlobal("2026-03-01T10:00:00.000Z") {
		t.Error("advance to an equal timestamp should be rejected")
	}
	if wm.Global != "2026-03-01T10:00:00.000Z" {
		t.Errorf("global = %q, want unchanged", wm.Global)
	}
	if !wm.AdvanceGlobal("2026-03-01T11:00:00.000Z") {
		t.Error("forward advance should succeed")
	}
}

func TestWatermarks_MonotonicPerChat(t *testing.T) {
	wm := NewWatermarks()

	if !wm.AdvancePerChat("a@g.us", "t2") {
		t.Error("first advance should move the watermark")
	}
	if wm.AdvancePerChat("a@g.us", "t1") {
		t.Error("backward advance should be rejected")
	}
	if wm.ChatWatermark("a@g.us") != "t2" {
		t.Errorf("chat watermark = %q, want t2", wm.ChatWatermark("a@g.us"))
	}
	if wm.ChatWatermark("b@g.us") != "" {
		t.Error("unknown chat should have empty watermark")
	}
	// Chats advance independently.
	if !wm.AdvancePerChat("b@g.us", "t1") {
		t.Error("other chat should advance from empty")
	}
}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m := NewManager(dir)
	m.AdvanceGlobal("2026-03-01T10:00:20.000Z")
	m.AdvancePerChat("chat@g.us", "2026-03-01T10:00:20.000Z")
	if err := m.UpdateSession("family", "sess-123"); err != nil {
		t.Fatalf("update session: %v", err)
	}
	if err := m.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Simulated restart: a fresh manager over the same data dir.
	m2 := NewManager(dir)
	if err := m2.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if m2.GlobalWatermark() != "2026-03-01T10:00:20.000Z" {
		t.Errorf("global = %q after reload", m2.GlobalWatermark())
	}
	if m2.ChatWatermark("chat@g.us") != "2026-03-01T10:00:20.000Z" {
		t.Errorf("per-chat = %q after reload", m2.ChatWatermark("chat@g.us"))
	}
	handle, ok := m2.ResolveSession("family")
	if !ok || handle != "sess-123" {
		t.Errorf("session = %q,%v after reload, want sess-123,true", handle, ok)
	}
}

func TestManager_LoadMissingFilesDefaults(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.Load(); err != nil {
		t.Fatalf("load with no files: %v", err)
	}
	if m.GlobalWatermark() != "" {
		t.Errorf("global = %q, want empty", m.GlobalWatermark())
	}
	if _, ok := m.ResolveSession("anything"); ok {
		t.Error("no sessions expected")
	}
}

func TestManager_ResetArchivesAndClears(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	if err := m.UpdateSession("family", "sess-old"); err != nil {
		t.Fatalf("update session: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	had, err := m.ResetSession("family", now)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !had {
		t.Error("reset should report an existing session")
	}
	if _, ok := m.ResolveSession("family"); ok {
		t.Error("session should be cleared")
	}

	archived, err := m.ArchivedSessions("family")
	if err != nil {
		t.Fatalf("archived sessions: %v", err)
	}
	if len(archived) != 1 {
		t.Fatalf("archive entries = %d, want 1", len(archived))
	}
	if archived[0].SessionID != "sess-old" {
		t.Errorf("archived id = %q, want sess-old", archived[0].SessionID)
	}
	if archived[0].ClearedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("cleared at = %q", archived[0].ClearedAt)
	}
}

func TestManager_ResetWithoutSessionIsNoOp(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	had, err := m.ResetSession("ghost", time.Now())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if had {
		t.Error("reset with no session should report false")
	}
	archived, err := m.ArchivedSessions("ghost")
	if err != nil {
		t.Fatalf("archived sessions: %v", err)
	}
	if len(archived) != 0 {
		t.Errorf("archive entries = %d, want 0", len(archived))
	}
}

func TestWriteJSON_AtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := writeJSON(path, map[string]string{"a": "1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := writeJSON(path, map[string]string{"a": "2"}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	var got map[string]string
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["a"] != "2" {
		t.Errorf("a = %q, want 2", got["a"])
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestRegisterAndLoadGroups(t *testing.T) {
	dir := t.TempDir()

	err := RegisterGroup(dir, "group1@g.us", RegisteredGroup{Name: "Family Chat", Trigger: "@claw"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	groups, err := LoadGroups(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	g, ok := groups["group1@g.us"]
	if !ok {
		t.Fatal("group not found")
	}
	if g.Folder != "family-chat" {
		t.Errorf("folder = %q, want family-chat", g.Folder)
	}
	if g.Channel != "whatsapp" {
		t.Errorf("channel = %q, want whatsapp default", g.Channel)
	}
	if g.AddedAt == "" {
		t.Error("added_at should be set")
	}
}

func TestSanitizeFolder(t *testing.T) {
	cases := map[string]string{
		"Family Chat":    "family-chat",
		"dev/ops TEAM!!": "dev-ops-team",
		"---":            "group",
		"ok_name-1":      "ok_name-1",
	}
	for in, want := range cases {
		if got := SanitizeFolder(in); got != want {
			t.Errorf("SanitizeFolder(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadGroups_MissingFile(t *testing.T) {
	groups, err := LoadGroups(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("groups = %d, want 0", len(groups))
	}
}
