package protocol

// Message is one tagged payload recovered from the block stream. The payload
// is owned by the message; constructors copy their input.
type Message struct {
	Tag     Tag
	Payload []byte
}

// NewMessage splits block into tag and payload. It returns nil for an empty
// block.
func NewMessage(block []byte) *Message {
	if len(block) == 0 {
		return nil
	}
	m := &Message{Tag: Tag(block[0])}
	if len(block) > 1 {
		m.Payload = append([]byte(nil), block[1:]...)
	}
	return m
}

func (m *Message) Kind() Kind {
	return m.Tag.Kind()
}

func (m *Message) Len() int {
	return len(m.Payload)
}

// Tail returns a new message built from the payload at off onward: the byte
// at off becomes its tag. It returns nil when off is past the payload.
func (m *Message) Tail(off int) *Message {
	if off < 0 || off >= len(m.Payload) {
		return nil
	}
	return NewMessage(m.Payload[off:])
}

// TruncateAt drops payload bytes from off onward.
func (m *Message) TruncateAt(off int) {
	if off >= 0 && off < len(m.Payload) {
		m.Payload = m.Payload[:off:off]
	}
}

// Append extends m with o's tag byte followed by o's payload. o is left
// untouched.
func (m *Message) Append(o *Message) {
	if o == nil {
		return
	}
	grown := make([]byte, 0, len(m.Payload)+1+len(o.Payload))
	grown = append(grown, m.Payload...)
	grown = append(grown, byte(o.Tag))
	grown = append(grown, o.Payload...)
	m.Payload = grown
}

// Block renders the message back into wire form.
func (m *Message) Block() []byte {
	out := make([]byte, 0, 1+len(m.Payload))
	out = append(out, byte(m.Tag))
	return append(out, m.Payload...)
}
