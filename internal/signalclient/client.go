// Package signalclient connects to a signalqueue dispatcher as a writer.
package signalclient

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/codefionn/signalqueue/internal/consts"
	"github.com/codefionn/signalqueue/internal/protocol"
	"github.com/codefionn/signalqueue/internal/signal"
)

// ErrRejected is matched by every *RejectedError
var ErrRejected = errors.New("connection rejected")

// RejectedError carries the server's rejection code and reason
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("connection rejected (code %d): %s", e.Code, e.Message)
}

// Is reports whether target is ErrRejected
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Client is an admitted connection
type Client struct {
	conn      net.Conn
	admission protocol.Admission
	role      byte
}

// Dial connects to addr and waits for the admission response. A rejection
// is returned as a *RejectedError and the connection is closed.
func Dial(ctx context.Context, addr string) (*Client, error) {
	dialer := net.Dialer{Timeout: consts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	admission, err := readAdmission(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if admission.Error {
		conn.Close()
		return nil, &RejectedError{Code: admission.Code, Message: admission.Message}
	}

	return &Client{conn: conn, admission: admission}, nil
}

// DialWriter dials and declares the writer role
func DialWriter(ctx context.Context, addr string) (*Client, error) {
	c, err := Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := c.Handshake(protocol.RoleWriter); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func readAdmission(ctx context.Context, conn net.Conn) (protocol.Admission, error) {
	deadline := time.Now().Add(consts.DialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return protocol.Admission{}, err
	}
	defer conn.SetReadDeadline(time.Time{})

	// Read byte by byte so nothing after the terminator is consumed.
	reader := bufio.NewReaderSize(io.LimitReader(conn, consts.MaxAdmissionSize), 1)
	var frame bytes.Buffer
	for {
		b, err := reader.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && frame.Len() >= consts.MaxAdmissionSize {
				return protocol.Admission{}, fmt.Errorf("admission response exceeds %d bytes", consts.MaxAdmissionSize)
			}
			return protocol.Admission{}, fmt.Errorf("failed to read admission response: %w", err)
		}
		frame.WriteByte(b)
		if b == protocol.Terminator {
			break
		}
	}

	return protocol.ParseAdmission(frame.Bytes())
}

// Handshake sends the role byte. It may only be called once.
func (c *Client) Handshake(role byte) error {
	if c.role != 0 {
		return fmt.Errorf("role already declared as %q", c.role)
	}
	if _, err := c.conn.Write([]byte{role}); err != nil {
		return fmt.Errorf("failed to send role: %w", err)
	}
	c.role = role
	return nil
}

// Send writes one command byte. The server interprets only the first byte of
// each receive, so commands written back to back may be merged into one
// delivery; pace sends if every command matters.
func (c *Client) Send(cmd signal.Command) error {
	if !protocol.IsWriterRole(c.role) {
		return errors.New("writer role has not been declared")
	}
	if _, err := c.conn.Write([]byte{byte(cmd)}); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

// Admission returns the server's admission response
func (c *Client) Admission() protocol.Admission {
	return c.admission
}

// LocalAddr returns the client's local address
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
