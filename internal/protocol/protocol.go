// Package protocol holds the wire format shared by the dispatcher and clients.
//
// After accepting a TCP connection the server sends exactly one admission
// response: a JSON object followed by a NUL byte. An admitted client then
// sends one role byte and afterwards a stream of command bytes, read by the
// server in chunks of at most ChunkSize bytes where only the first byte of
// each chunk is interpreted.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Terminator ends every admission response
const Terminator byte = 0

// ChunkSize is the maximum number of bytes consumed per command receive
const ChunkSize = 3

// Role bytes
const (
	RoleWriter      byte = 'W'
	RoleWriterLower byte = 'w'
)

// Admission response codes
const (
	// CodeNoAvailableConnections is sent when every worker slot is busy
	CodeNoAvailableConnections = 1
)

// MessageNoAvailableConnections is the human readable rejection reason
const MessageNoAvailableConnections = "No available connections."

// ErrUnterminated is returned when an admission frame lacks the NUL terminator
var ErrUnterminated = errors.New("admission response is not NUL terminated")

// Admission is the first message a client receives
type Admission struct {
	Error   bool   `json:"error"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

var (
	acceptFrame = mustFrame(Admission{Error: false})
	rejectFrame = mustFrame(Admission{
		Error:   true,
		Code:    CodeNoAvailableConnections,
		Message: MessageNoAvailableConnections,
	})
)

// AcceptFrame returns the encoded acceptance response: {"error":false}\x00
func AcceptFrame() []byte {
	return append([]byte(nil), acceptFrame...)
}

// RejectFrame returns the encoded rejection response
func RejectFrame() []byte {
	return append([]byte(nil), rejectFrame...)
}

// Frame encodes a as JSON followed by the terminator
func (a Admission) Frame() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode admission: %w", err)
	}
	return append(data, Terminator), nil
}

// ParseAdmission decodes a frame produced by Frame. The terminator is required.
func ParseAdmission(frame []byte) (Admission, error) {
	var a Admission
	end := bytes.IndexByte(frame, Terminator)
	if end < 0 {
		return a, ErrUnterminated
	}
	if err := json.Unmarshal(frame[:end], &a); err != nil {
		return a, fmt.Errorf("invalid admission response: %w", err)
	}
	return a, nil
}

// IsWriterRole reports whether b declares the writer role
func IsWriterRole(b byte) bool {
	return b == RoleWriter || b == RoleWriterLower
}

func mustFrame(a Admission) []byte {
	frame, err := a.Frame()
	if err != nil {
		panic(err)
	}
	return frame
}
