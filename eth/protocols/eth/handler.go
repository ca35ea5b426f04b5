package eth

import (
	"fmt"

	"github.com/coreetc/chainsync/p2p"
)

// ErrUnexpectedMsgCode is returned when a read message's code does not
// match what the caller was expecting.
type ErrUnexpectedMsgCode struct {
	Got, Want uint64
}

func (e *ErrUnexpectedMsgCode) Error() string {
	return fmt.Sprintf("eth: unexpected message code %#x (wanted %#x)", e.Got, e.Want)
}

// SendStatus writes the handshake message.
func SendStatus(rw p2p.MsgReadWriter, status *StatusPacket) error {
	return p2p.Send(rw, StatusMsg, status)
}

// ReadStatus reads and decodes the handshake message, failing if the peer
// sent something else first — status must be the first message on a fresh
// connection.
func ReadStatus(rw p2p.MsgReadWriter) (*StatusPacket, error) {
	msg, err := rw.ReadMsg()
	if err != nil {
		return nil, err
	}
	if msg.Code != StatusMsg {
		return nil, &ErrUnexpectedMsgCode{Got: msg.Code, Want: StatusMsg}
	}
	var status StatusPacket
	if err := msg.Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RequestHeaders sends GetBlockHeaders.
func RequestHeaders(rw p2p.MsgReadWriter, req *GetBlockHeadersPacket) error {
	return p2p.Send(rw, GetBlockHeadersMsg, req)
}

// RequestBodies sends GetBlockBodies.
func RequestBodies(rw p2p.MsgReadWriter, hashes GetBlockBodiesPacket) error {
	return p2p.Send(rw, GetBlockBodiesMsg, hashes)
}

// RequestReceipts sends GetReceipts.
func RequestReceipts(rw p2p.MsgReadWriter, hashes GetReceiptsPacket) error {
	return p2p.Send(rw, GetReceiptsMsg, hashes)
}

// RequestNodeData sends GetNodeData.
func RequestNodeData(rw p2p.MsgReadWriter, hashes GetNodeDataPacket) error {
	return p2p.Send(rw, GetNodeDataMsg, hashes)
}

// ReadMsg reads the next message and decodes it according to its code,
// returning the decoded packet as interface{} — callers type-switch on the
// concrete type they expect.
func ReadMsg(rw p2p.MsgReadWriter) (code uint64, packet interface{}, err error) {
	msg, err := rw.ReadMsg()
	if err != nil {
		return 0, nil, err
	}
	switch msg.Code {
	case StatusMsg:
		var p StatusPacket
		err = msg.Decode(&p)
		packet = &p
	case NewBlockHashesMsg:
		var p NewBlockHashesPacket
		err = msg.Decode(&p)
		packet = p
	case NewBlockMsg:
		var p NewBlockPacket
		err = msg.Decode(&p)
		packet = &p
	case GetBlockHeadersMsg:
		var p GetBlockHeadersPacket
		err = msg.Decode(&p)
		packet = &p
	case BlockHeadersMsg:
		var p BlockHeadersPacket
		err = msg.Decode(&p)
		packet = p
	case GetBlockBodiesMsg:
		var p GetBlockBodiesPacket
		err = msg.Decode(&p)
		packet = p
	case BlockBodiesMsg:
		var p BlockBodiesPacket
		err = msg.Decode(&p)
		packet = p
	case GetReceiptsMsg:
		var p GetReceiptsPacket
		err = msg.Decode(&p)
		packet = p
	case ReceiptsMsg:
		var p ReceiptsPacket
		err = msg.Decode(&p)
		packet = p
	case GetNodeDataMsg:
		var p GetNodeDataPacket
		err = msg.Decode(&p)
		packet = p
	case NodeDataMsg:
		var p NodeDataPacket
		err = msg.Decode(&p)
		packet = p
	default:
		return msg.Code, nil, fmt.Errorf("eth: unknown message code %#x", msg.Code)
	}
	return msg.Code, packet, err
}
