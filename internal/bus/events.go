package bus

import "time"

// InboundMessage is one observed chat message as delivered by a transport
// channel. Content variants are kept separate; the message store picks the
// first non-empty one.
type InboundMessage struct {
	Channel      string
	MessageID    string
	ChatID       string
	ChatName     string
	SenderID     string
	SenderName   string
	FromMe       bool
	Timestamp    time.Time
	Text         string
	ExtendedText string
	ImageCaption string
	VideoCaption string
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}
