package graph

import (
	"errors"
	"strconv"
)

// Wire operations between a Remote and the relay.
const (
	OpPut   = "put"
	OpCAS   = "cas"
	OpGet   = "get"
	OpOn    = "on"
	OpOff   = "off"
	OpAck   = "ack"
	OpNode  = "node"
	OpError = "error"
)

const (
	codeNotFound  = "not_found"
	codeConflict  = "conflict"
	codeClosed    = "closed"
	codeForbidden = "forbidden"
)

// Frame is the JSON message exchanged over the sync websocket. Requests and
// their replies share an ID; node pushes carry the ID of their subscription.
// Writes into a private namespace carry the owner's signature of
// SignedBytes in Sig.
type Frame struct {
	Op      string `json:"op"`
	ID      uint64 `json:"id"`
	Key     string `json:"key,omitempty"`
	Value   []byte `json:"value"`
	Version uint64 `json:"version,omitempty"`
	Sig     string `json:"sig,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SignedBytes is what a write's signature covers.
func (f Frame) SignedBytes() []byte {
	b := make([]byte, 0, len(f.Op)+len(f.Key)+len(f.Value)+24)
	b = append(b, f.Op...)
	b = append(b, 0)
	b = append(b, f.Key...)
	b = append(b, 0)
	b = strconv.AppendUint(b, f.Version, 10)
	b = append(b, 0)
	if f.Value == nil {
		return append(b, '-')
	}
	b = append(b, '+')
	return append(b, f.Value...)
}

// ErrorFrame encodes err as a reply to request id.
func ErrorFrame(id uint64, err error) Frame {
	f := Frame{Op: OpError, ID: id}
	switch {
	case errors.Is(err, ErrNotFound):
		f.Error = codeNotFound
	case errors.Is(err, ErrConflict):
		f.Error = codeConflict
	case errors.Is(err, ErrClosed):
		f.Error = codeClosed
	case errors.Is(err, ErrForbidden):
		f.Error = codeForbidden
	default:
		f.Error = err.Error()
	}
	return f
}

// Err decodes an error frame back into a sentinel where one applies.
func (f Frame) Err() error {
	if f.Op != OpError {
		return nil
	}
	switch f.Error {
	case codeNotFound:
		return ErrNotFound
	case codeConflict:
		return ErrConflict
	case codeClosed:
		return ErrClosed
	case codeForbidden:
		return ErrForbidden
	default:
		return errors.New(f.Error)
	}
}
