package p2p

import (
	"bytes"
	"errors"
	"testing"
)

// pipeMsgReadWriter is a trivial in-memory MsgReadWriter fake, in place of a
// real handshake/framing transport.
type pipeMsgReadWriter struct {
	queue []Msg
}

func (p *pipeMsgReadWriter) WriteMsg(msg Msg) error {
	p.queue = append(p.queue, msg)
	return nil
}

func (p *pipeMsgReadWriter) ReadMsg() (Msg, error) {
	if len(p.queue) == 0 {
		return Msg{}, errors.New("p2p: no queued message")
	}
	msg := p.queue[0]
	p.queue = p.queue[1:]
	return msg, nil
}

func TestSendAndDecodeRoundTrip(t *testing.T) {
	pipe := &pipeMsgReadWriter{}
	type payload struct {
		A uint64
		B []byte
	}
	if err := Send(pipe, 7, payload{A: 42, B: []byte("hi")}); err != nil {
		t.Fatalf("send: %v", err)
	}

	msg, err := pipe.ReadMsg()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Code != 7 {
		t.Fatalf("expected code 7, got %d", msg.Code)
	}

	var out payload
	if err := msg.Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.A != 42 || !bytes.Equal(out.B, []byte("hi")) {
		t.Fatalf("unexpected payload: %+v", out)
	}
}
