// Package playback implements the two-pipe protocol between the kiosk
// controller and the ad player: NUL-terminated path requests one way,
// single status bytes the other.
package playback

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Status is the single ack byte written after each playback
type Status byte

const (
	StatusOK     Status = 0x00
	StatusFailed Status = 0x01
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(0x%02x)", byte(s))
	}
}

var (
	// ErrInvalidPath rejects paths that cannot be framed
	ErrInvalidPath = errors.New("invalid request path")
	// ErrInvalidStatus rejects ack bytes other than 0x00 and 0x01
	ErrInvalidStatus = errors.New("invalid ack status")
)

const terminator = 0x00

// WriteRequest frames path as its raw bytes followed by one 0x00
func WriteRequest(w io.Writer, path string) error {
	if path == "" || strings.IndexByte(path, terminator) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	buf := make([]byte, 0, len(path)+1)
	buf = append(buf, path...)
	buf = append(buf, terminator)
	_, err := w.Write(buf)
	return err
}

// RequestReader scans the request stream for terminators
type RequestReader struct {
	br *bufio.Reader
}

// NewRequestReader wraps r
func NewRequestReader(r io.Reader) *RequestReader {
	return &RequestReader{br: bufio.NewReader(r)}
}

// ReadRequest blocks until a full path arrives. A clean close between
// requests yields io.EOF; a close mid-request yields io.ErrUnexpectedEOF.
func (rr *RequestReader) ReadRequest() (string, error) {
	b, err := rr.br.ReadBytes(terminator)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if len(b) == 0 {
				return "", io.EOF
			}
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	if len(b) == 1 {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	return string(b[:len(b)-1]), nil
}

// WriteAck writes one status byte
func WriteAck(w io.Writer, s Status) error {
	_, err := w.Write([]byte{byte(s)})
	return err
}

// ReadAck blocks for one status byte
func ReadAck(r io.Reader) (Status, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	s := Status(b[0])
	if s != StatusOK && s != StatusFailed {
		return s, fmt.Errorf("%w: 0x%02x", ErrInvalidStatus, b[0])
	}
	return s, nil
}
