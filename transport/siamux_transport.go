package transport

import (
	"encoding/binary"
	"io"
	"sync"

	"gitlab.com/NebulousLabs/encoding"
	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/log"
	"gitlab.com/NebulousLabs/siamux/mux"
	"gitlab.com/NebulousLabs/threadgroup"

	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
)

// frameKind mirrors transport.Message's tagged union on the wire, since a
// raw siamux stream has no notion of Go struct types.
type frameKind uint8

const (
	frameChunkUpdate frameKind = iota
	frameRetrieveRequest
	frameRetrieveResponse
)

// SiaMux is a Transport binding main and worker contexts across two
// separate OS processes over a multiplexed siamux stream, for deployments
// that want GPU-owning and download-owning processes kept apart. Grounded
// on modules/host/rpc.go's extractPaymentForRPC: read one framed request
// off the session, dispatch, respond — generalized here to a long-lived
// duplex pump instead of one-shot RPCs.
type SiaMux struct {
	staticLog *log.Logger
	stream    io.ReadWriteCloser
	tg        threadgroup.ThreadGroup

	in chan Message

	writeMu sync.Mutex
}

// NewSiaMuxTransport wraps an already-established siamux stream (obtained
// from a *siamux.SiaMux via NewStream or Listen/Accept) as a Transport. The
// pump loop reading frames off the stream is started by Run.
func NewSiaMuxTransport(stream *mux.Stream, logger *log.Logger) *SiaMux {
	return &SiaMux{staticLog: logger, stream: stream, in: make(chan Message, 64)}
}

// Run pumps incoming frames off the stream into the Recv channel until the
// stream errors or Close is called. Must run on its own goroutine.
func (t *SiaMux) Run() {
	if err := t.tg.Add(); err != nil {
		return
	}
	defer t.tg.Done()
	defer close(t.in)
	for {
		msg, err := t.readFrame()
		if err != nil {
			if !errors.Contains(err, io.EOF) {
				t.staticLog.Debugln("siamux transport pump exiting:", err)
			}
			return
		}
		select {
		case t.in <- msg:
		case <-t.tg.StopChan():
			return
		}
	}
}

// Send implements Transport: it frames msg as (kind byte, length-prefixed
// Sia-encoded payload) and writes it to the stream.
func (t *SiaMux) Send(msg Message) error {
	kind, payload, err := encodeMessage(msg)
	if err != nil {
		return errors.AddContext(err, "failed to encode transport message")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	header := make([]byte, 5)
	header[0] = byte(kind)
	binary.LittleEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := t.stream.Write(header); err != nil {
		return errors.AddContext(err, "failed to write transport frame header")
	}
	if _, err := t.stream.Write(payload); err != nil {
		return errors.AddContext(err, "failed to write transport frame payload")
	}
	return nil
}

// Recv implements Transport.
func (t *SiaMux) Recv() <-chan Message {
	return t.in
}

// Close implements Transport.
func (t *SiaMux) Close() error {
	// Close the stream first so a Run blocked in readFrame returns and the
	// threadgroup can finish stopping.
	err := t.stream.Close()
	return errors.Compose(t.tg.Stop(), err)
}

func (t *SiaMux) readFrame() (Message, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(t.stream, header); err != nil {
		return Message{}, err
	}
	kind := frameKind(header[0])
	n := binary.LittleEndian.Uint32(header[1:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(t.stream, payload); err != nil {
		return Message{}, err
	}
	return decodeMessage(kind, payload)
}

func encodeMessage(msg Message) (frameKind, []byte, error) {
	switch {
	case msg.ChunkUpdate != nil:
		return frameChunkUpdate, encoding.Marshal(*msg.ChunkUpdate), nil
	case msg.RetrieveRequest != nil:
		return frameRetrieveRequest, encoding.Marshal(*msg.RetrieveRequest), nil
	case msg.RetrieveResponse != nil:
		return frameRetrieveResponse, encoding.Marshal(*msg.RetrieveResponse), nil
	default:
		return 0, nil, errors.New("empty transport message")
	}
}

func decodeMessage(kind frameKind, payload []byte) (Message, error) {
	switch kind {
	case frameChunkUpdate:
		var u cm.ChunkUpdate
		if err := encoding.Unmarshal(payload, &u); err != nil {
			return Message{}, errors.AddContext(err, "failed to decode ChunkUpdate frame")
		}
		return Message{ChunkUpdate: &u}, nil
	case frameRetrieveRequest:
		var r cm.RetrieveRequest
		if err := encoding.Unmarshal(payload, &r); err != nil {
			return Message{}, errors.AddContext(err, "failed to decode RetrieveRequest frame")
		}
		return Message{RetrieveRequest: &r}, nil
	case frameRetrieveResponse:
		var r cm.RetrieveResponse
		if err := encoding.Unmarshal(payload, &r); err != nil {
			return Message{}, errors.AddContext(err, "failed to decode RetrieveResponse frame")
		}
		return Message{RetrieveResponse: &r}, nil
	default:
		return Message{}, errors.New("unknown transport frame kind")
	}
}
