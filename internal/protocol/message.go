package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed    = errors.New("malformed frame")
	ErrUnknownEvent = errors.New("unknown event")
	ErrMissingField = errors.New("missing required field")
)

// validator is implemented by payloads with required fields.
type validator interface {
	Validate() error
}

// Message is a decoded inbound frame. A Message is always returned by
// Decode; schema problems are reported through Validate so that the guard
// can treat them like any other admission failure.
type Message struct {
	Event   string
	Payload any
	secret  string
	err     error
}

// Secret returns the shared secret carried by the message.
func (m Message) Secret() string {
	return m.secret
}

// Validate returns the schema error found while decoding, if any.
func (m Message) Validate() error {
	return m.err
}

var payloads = map[string]func() any{
	EventVerifyOwner:    func() any { return &VerifyOwner{} },
	EventTerminalInput:  func() any { return &TerminalInput{} },
	EventTerminalResize: func() any { return &TerminalResize{} },
	EventGetSystemInfo:  func() any { return &Empty{} },
	EventGetFiles:       func() any { return &GetFiles{} },
	EventReadFile:       func() any { return &ReadFile{} },
	EventSaveFile:       func() any { return &SaveFile{} },
	EventCreateNode:     func() any { return &CreateNode{} },
	EventDeleteNode:     func() any { return &DeleteNode{} },
	EventGetProcesses:   func() any { return &Empty{} },
	EventKillProcess:    func() any { return &KillProcess{} },
	EventPowerCommand:   func() any { return &PowerCommand{} },
	EventGetAuditLog:    func() any { return &Empty{} },
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type credentials struct {
	Secret string `json:"secret"`
}

// Decode parses one inbound frame.
func Decode(frame []byte) Message {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	msg := Message{Event: env.Event}

	newPayload, ok := payloads[env.Event]
	if !ok {
		msg.err = fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
		return msg
	}
	payload := newPayload()
	msg.Payload = payload

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		msg.err = validate(payload)
		return msg
	}

	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		msg.err = fmt.Errorf("%w: %v", ErrMalformed, err)
		return msg
	}
	msg.secret = creds.Secret

	if err := json.Unmarshal(data, payload); err != nil {
		msg.err = fmt.Errorf("%w: %v", ErrMalformed, err)
		return msg
	}
	msg.err = validate(payload)
	return msg
}

func validate(payload any) error {
	if v, ok := payload.(validator); ok {
		return v.Validate()
	}
	return nil
}

func (p *VerifyOwner) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("%w: userId", ErrMissingField)
	}
	return nil
}

func (p *TerminalResize) Validate() error {
	if p.Cols <= 0 || p.Rows <= 0 || p.Cols > 0xffff || p.Rows > 0xffff {
		return fmt.Errorf("%w: cols/rows", ErrMissingField)
	}
	return nil
}

func (p *ReadFile) Validate() error {
	if p.FilePath == "" {
		return fmt.Errorf("%w: filePath", ErrMissingField)
	}
	return nil
}

func (p *SaveFile) Validate() error {
	if p.FilePath == "" {
		return fmt.Errorf("%w: filePath", ErrMissingField)
	}
	return nil
}

func (p *CreateNode) Validate() error {
	if p.Path == "" {
		return fmt.Errorf("%w: path", ErrMissingField)
	}
	return nil
}

func (p *DeleteNode) Validate() error {
	if p.Path == "" {
		return fmt.Errorf("%w: path", ErrMissingField)
	}
	return nil
}

func (p *KillProcess) Validate() error {
	if p.PID == nil {
		return fmt.Errorf("%w: pid", ErrMissingField)
	}
	return nil
}

// Frame is an outbound message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode marshals an outbound frame.
func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}
