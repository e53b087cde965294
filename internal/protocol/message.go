package protocol

// MessageType is the routing tag carried by every message.
// The set is open: peers may send types this build does not know about.
type MessageType string

const (
	TypeCommand    MessageType = "command"    // coordinator -> peer, shell command text
	TypeResponse   MessageType = "response"   // peer -> coordinator, captured command output
	TypeChat       MessageType = "chat"       // either direction, free text
	TypeScreenshot MessageType = "screenshot" // peer -> coordinator, base64 image bytes
	TypeExit       MessageType = "exit"       // either direction, ends the session
)

// Message is the unit of protocol exchange. It is a plain value type so
// two messages compare equal with ==.
type Message struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

// NewMessage builds a message of the given type.
func NewMessage(t MessageType, content string) Message {
	return Message{Type: t, Content: content}
}

func Command(text string) Message  { return NewMessage(TypeCommand, text) }
func Response(text string) Message { return NewMessage(TypeResponse, text) }
func Chat(text string) Message     { return NewMessage(TypeChat, text) }

// Screenshot carries already base64-encoded image data.
func Screenshot(encoded string) Message { return NewMessage(TypeScreenshot, encoded) }

func Exit() Message { return NewMessage(TypeExit, "") }

// IsExit reports whether m terminates the session that receives it.
func (m Message) IsExit() bool {
	return m.Type == TypeExit
}
