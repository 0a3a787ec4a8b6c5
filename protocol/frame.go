package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// frameTerminator delimits frames on the control stream. JSON never emits an
// unescaped 0x00 inside a valid document, so a single terminator byte is
// enough to find the frame boundary without a length prefix.
const frameTerminator = 0x00

// SendClient writes a framed ClientMessage to w.
func SendClient(w io.Writer, msg ClientMessage) error {
	return send(w, msg)
}

// SendServer writes a framed ServerMessage to w.
func SendServer(w io.Writer, msg ServerMessage) error {
	return send(w, msg)
}

func send(w io.Writer, msg any) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("protocol: encode frame: %w", err)
	}
	encoded = append(encoded, frameTerminator)
	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// RecvClient reads the next framed ClientMessage from r, reusing scratch as
// its working buffer. It returns (nil, nil) at clean EOF.
func RecvClient(r *bufio.Reader, scratch *bytes.Buffer) (*ClientMessage, error) {
	ok, err := recv(r, scratch)
	if err != nil || !ok {
		return nil, err
	}
	var msg ClientMessage
	if err := json.Unmarshal(scratch.Bytes(), &msg); err != nil {
		return nil, fmt.Errorf("protocol: parse client frame: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RecvServer reads the next framed ServerMessage from r, reusing scratch as
// its working buffer. It returns (nil, nil) at clean EOF.
func RecvServer(r *bufio.Reader, scratch *bytes.Buffer) (*ServerMessage, error) {
	ok, err := recv(r, scratch)
	if err != nil || !ok {
		return nil, err
	}
	var msg ServerMessage
	if err := json.Unmarshal(scratch.Bytes(), &msg); err != nil {
		return nil, fmt.Errorf("protocol: parse server frame: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// recv reads up to and including the next terminator into scratch, stripping
// the terminator. It reports ok=false at clean EOF (nothing read at all).
func recv(r *bufio.Reader, scratch *bytes.Buffer) (ok bool, err error) {
	scratch.Reset()
	line, err := r.ReadBytes(frameTerminator)
	if err != nil {
		if err == io.EOF {
			if len(line) == 0 {
				return false, nil
			}
			return false, fmt.Errorf("protocol: truncated frame at EOF")
		}
		return false, fmt.Errorf("protocol: read frame: %w", err)
	}
	line = line[:len(line)-1] // drop terminator
	scratch.Write(line)
	return true, nil
}
