package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "messages.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func incoming(id, chat, text string, ts time.Time) IncomingMessage {
	return IncomingMessage{
		ID:         id,
		ChatJID:    chat,
		SenderID:   "111@s.whatsapp.net",
		SenderName: "Alice",
		Timestamp:  ts,
		Text:       text,
	}
}

func TestRecordMessage_RequiresID(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordMessage(incoming("", "chat@g.us", "hi", time.Now()))
	if !errors.Is(err, ErrNoMessageID) {
		t.Fatalf("err = %v, want ErrNoMessageID", err)
	}
}

func TestRecordMessage_IdempotentByIDAndChat(t *testing.T) {
	s := openTestStore(t)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.RecordMessage(incoming("m1", "chat@g.us", "first", ts)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordMessage(incoming("m1", "chat@g.us", "second", ts)); err != nil {
		t.Fatalf("record again: %v", err)
	}

	msgs, _, err := s.MessagesSince([]string{"chat@g.us"}, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	if msgs[0].Content != "second" {
		t.Errorf("content = %q, want second (latest write wins)", msgs[0].Content)
	}

	// Same id in a different chat is a distinct message.
	if err := s.RecordMessage(incoming("m1", "other@g.us", "elsewhere", ts)); err != nil {
		t.Fatalf("record other chat: %v", err)
	}
	msgs, _, err = s.MessagesSince([]string{"chat@g.us", "other@g.us"}, "")
	if err != nil {
		t.Fatalf("fetch both: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("len(msgs) = %d, want 2", len(msgs))
	}
}

func TestRecordMessage_ContentDerivationOrder(t *testing.T) {
	s := openTestStore(t)
	ts := time.Now()

	cases := []struct {
		name string
		msg  IncomingMessage
		want string
	}{
		{"plain text wins", IncomingMessage{ID: "a", ChatJID: "c@g.us", Timestamp: ts, Text: "plain", ExtendedText: "ext"}, "plain"},
		{"extended text next", IncomingMessage{ID: "b", ChatJID: "c@g.us", Timestamp: ts, ExtendedText: "ext", ImageCaption: "img"}, "ext"},
		{"image caption next", IncomingMessage{ID: "c", ChatJID: "c@g.us", Timestamp: ts, ImageCaption: "img", VideoCaption: "vid"}, "img"},
		{"video caption last", IncomingMessage{ID: "d", ChatJID: "c@g.us", Timestamp: ts, VideoCaption: "vid"}, "vid"},
		{"default empty", IncomingMessage{ID: "e", ChatJID: "c@g.us", Timestamp: ts}, ""},
	}
	for _, tc := range cases {
		if err := s.RecordMessage(tc.msg); err != nil {
			t.Fatalf("%s: record: %v", tc.name, err)
		}
	}

	msgs, err := s.ChatMessagesSince("c@g.us", "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	byID := make(map[string]string, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m.Content
	}
	for _, tc := range cases {
		if got := byID[tc.msg.ID]; got != tc.want {
			t.Errorf("%s: content = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestMessagesSince_StrictExclusiveBound(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.RecordMessage(incoming("m1", "c@g.us", "one", base)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordMessage(incoming("m2", "c@g.us", "two", base.Add(time.Second))); err != nil {
		t.Fatalf("record: %v", err)
	}

	// First fetch sees both and returns the max timestamp.
	msgs, wm, err := s.MessagesSince([]string{"c@g.us"}, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if wm != msgs[1].Timestamp {
		t.Errorf("watermark = %q, want %q", wm, msgs[1].Timestamp)
	}

	// Fetching from the returned watermark returns nothing: the boundary
	// message is excluded.
	msgs, wm2, err := s.MessagesSince([]string{"c@g.us"}, wm)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("len(msgs) = %d, want 0", len(msgs))
	}
	if wm2 != wm {
		t.Errorf("watermark moved to %q on empty fetch, want %q", wm2, wm)
	}
}

func TestMessagesSince_EqualTimestampsConsumedTogether(t *testing.T) {
	s := openTestStore(t)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.RecordMessage(incoming("m1", "c@g.us", "a", ts)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordMessage(incoming("m2", "c@g.us", "b", ts)); err != nil {
		t.Fatalf("record: %v", err)
	}

	msgs, _, err := s.MessagesSince([]string{"c@g.us"}, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("len(msgs) = %d, want 2 (ties land in one poll)", len(msgs))
	}
}

func TestMessagesSince_EmptyChatList(t *testing.T) {
	s := openTestStore(t)
	msgs, wm, err := s.MessagesSince(nil, "2026-01-01T00:00:00.000Z")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("len(msgs) = %d, want 0", len(msgs))
	}
	if wm != "2026-01-01T00:00:00.000Z" {
		t.Errorf("watermark = %q, want input bound", wm)
	}
}

func TestMessagesSince_ScopedToGivenChats(t *testing.T) {
	s := openTestStore(t)
	ts := time.Now()

	if err := s.RecordMessage(incoming("m1", "in@g.us", "keep", ts)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordMessage(incoming("m2", "out@g.us", "skip", ts)); err != nil {
		t.Fatalf("record: %v", err)
	}

	msgs, _, err := s.MessagesSince([]string{"in@g.us"}, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ChatJID != "in@g.us" {
		t.Errorf("got %+v, want only in@g.us", msgs)
	}
}

func TestTimestampOrdering_SubSecond(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.RecordMessage(incoming("m2", "c@g.us", "late", base.Add(500*time.Millisecond))); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordMessage(incoming("m1", "c@g.us", "early", base)); err != nil {
		t.Fatalf("record: %v", err)
	}

	msgs, _, err := s.MessagesSince([]string{"c@g.us"}, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("order = %s,%s; want m1,m2", msgs[0].ID, msgs[1].ID)
	}
}

func TestSenderNameFallsBackToJIDLocalPart(t *testing.T) {
	s := openTestStore(t)
	msg := IncomingMessage{
		ID:        "m1",
		ChatJID:   "c@g.us",
		SenderID:  "4917012345@s.whatsapp.net",
		Timestamp: time.Now(),
		Text:      "hi",
	}
	if err := s.RecordMessage(msg); err != nil {
		t.Fatalf("record: %v", err)
	}

	msgs, err := s.ChatMessagesSince("c@g.us", "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if msgs[0].SenderName != "4917012345" {
		t.Errorf("sender name = %q, want local part", msgs[0].SenderName)
	}
}
