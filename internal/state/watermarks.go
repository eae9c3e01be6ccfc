package state

// Watermarks tracks the timestamp boundaries already processed. Global
// covers the main poll across all registered chats; PerChat tracks the
// last message included in an agent prompt for each chat. Both only move
// forward.
type Watermarks struct {
	Global  string            `json:"last_timestamp"`
	PerChat map[string]string `json:"last_agent_timestamp"`
}

func NewWatermarks() Watermarks {
	return Watermarks{PerChat: make(map[string]string)}
}

// AdvanceGlobal moves the global watermark to candidate if it is greater.
// Reports whether the watermark moved.
func (w *Watermarks) AdvanceGlobal(candidate string) bool {
	if candidate <= w.Global {
		return false
	}
	w.Global = candidate
	return true
}

// AdvancePerChat moves a chat's agent watermark to candidate if it is
// greater. Reports whether the watermark moved.
func (w *Watermarks) AdvancePerChat(chatJID, candidate string) bool {
	if w.PerChat == nil {
		w.PerChat = make(map[string]string)
	}
	if candidate <= w.PerChat[chatJID] {
		return false
	}
	w.PerChat[chatJID] = candidate
	return true
}

func (w *Watermarks) ChatWatermark(chatJID string) string {
	return w.PerChat[chatJID]
}
