package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// StreamID numbers a stream within an app domain. Stream 0 is the
// app's default channel. Clients of the original protocol send it as
// either a JSON number or a numeric string, so decoding coerces both.
type StreamID int

func (s *StreamID) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*s = StreamID(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return errors.New("stream must be a number or numeric string")
	}
	n, err := strconv.Atoi(strings.TrimSpace(str))
	if err != nil {
		return fmt.Errorf("stream %q is not numeric", str)
	}
	*s = StreamID(n)
	return nil
}

func (s StreamID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(s))), nil
}

// Address names one endpoint of a signal: a user's stream within an
// app domain.
type Address struct {
	User   string   `json:"user"`
	App    string   `json:"app"`
	Stream StreamID `json:"stream"`
}

// Key returns the relay key the address resolves to.
func (a Address) Key() Key {
	return NewKey(a.User, a.App, a.Stream)
}

func (a Address) validate(role string) error {
	if a.User == "" {
		return fmt.Errorf("%s.user is required", role)
	}
	if a.App == "" {
		return fmt.Errorf("%s.app is required", role)
	}
	return nil
}

// Envelope is one addressed signal: the payload plus both endpoints.
// It is forwarded verbatim to the destination relay.
type Envelope struct {
	Src Address         `json:"src"`
	Dst Address         `json:"dst"`
	Msg json.RawMessage `json:"msg"`
}

// Validate checks the envelope shape before any registry state is
// touched. The payload may be any non-empty JSON value.
func (e Envelope) Validate() error {
	trimmed := strings.TrimSpace(string(e.Msg))
	if trimmed == "" || trimmed == "null" || trimmed == `""` {
		return errors.New("msg is required")
	}
	if err := e.Src.validate("src"); err != nil {
		return err
	}
	return e.Dst.validate("dst")
}

// Frame renders the envelope in the event-stream framing relay
// consumers expect: an event line, a data line with the JSON envelope,
// and a blank terminator. Replacement transports must keep this exact
// framing to stay protocol-compatible.
func (e Envelope) Frame() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		// Msg is raw JSON already validated by decode; the envelope
		// itself cannot fail to marshal.
		panic(fmt.Sprintf("marshal signal envelope: %v", err))
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + 32)
	buf.WriteString("event: signal\r\n")
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\r\n\r\n")
	return buf.Bytes()
}
