package bus

import (
	"context"
	"testing"
	"time"
)

func TestDispatchOutbound_RoutesByChannel(t *testing.T) {
	b := NewMessageBus(10)

	got := make(chan OutboundMessage, 2)
	b.SubscribeOutbound("whatsapp", func(msg OutboundMessage) { got <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "whatsapp", ChatID: "c1", Content: "hi"}
	b.Outbound <- OutboundMessage{Channel: "telegram", ChatID: "c2", Content: "dropped"}
	b.Outbound <- OutboundMessage{Channel: "whatsapp", ChatID: "c3", Content: "bye"}

	first := recvOutbound(t, got)
	if first.ChatID != "c1" || first.Content != "hi" {
		t.Errorf("first = %+v", first)
	}
	second := recvOutbound(t, got)
	if second.ChatID != "c3" {
		t.Errorf("second = %+v, unsubscribed channel message should be skipped", second)
	}
}

func TestDispatchOutbound_StopsOnCancel(t *testing.T) {
	b := NewMessageBus(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.DispatchOutbound(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("DispatchOutbound did not stop after cancel")
	}
}

func TestNewMessageBus_MinimumBuffer(t *testing.T) {
	b := NewMessageBus(0)
	if cap(b.Inbound) != 1 || cap(b.Outbound) != 1 {
		t.Errorf("caps = %d/%d, want 1/1", cap(b.Inbound), cap(b.Outbound))
	}
}

func recvOutbound(t *testing.T, ch chan OutboundMessage) OutboundMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound message")
		return OutboundMessage{}
	}
}
