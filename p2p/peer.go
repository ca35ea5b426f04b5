// Package p2p defines the boundary this module consumes from the wire-level
// session layer: a connected Peer identity and the Msg read/write primitive
// used to exchange protocol messages. The handshake and framing that
// produce these are an external collaborator's responsibility; this package
// only specifies the interface chain-sync is built against.
package p2p

import (
	"bytes"
	"io"

	"github.com/coreetc/chainsync/rlp"
)

// Msg is one decoded protocol message as read off the wire.
type Msg struct {
	Code       uint64
	Size       uint32
	Payload    io.Reader
	ReceivedAt int64 // unix nanos; set by the transport, used for response-timeout accounting
}

// Decode unmarshals msg's payload into val using RLP.
func (msg Msg) Decode(val interface{}) error {
	raw, err := io.ReadAll(msg.Payload)
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(raw, val)
}

// MsgReadWriter is the minimal read/write primitive a connected session
// exposes once the handshake has completed.
type MsgReadWriter interface {
	ReadMsg() (Msg, error)
	WriteMsg(Msg) error
}

// Peer identifies a connected, post-handshake remote node.
type Peer interface {
	ID() string
	RemoteAddr() string
	Disconnect(reason error)
}

// Send encodes val as RLP and writes it to rw under code.
func Send(rw MsgReadWriter, code uint64, val interface{}) error {
	payload, err := rlp.EncodeToBytes(val)
	if err != nil {
		return err
	}
	return rw.WriteMsg(Msg{Code: code, Size: uint32(len(payload)), Payload: bytes.NewReader(payload)})
}
