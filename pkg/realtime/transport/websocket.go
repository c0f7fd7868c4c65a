package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parlance-ai/parlance/pkg/core"
	"github.com/parlance-ai/parlance/pkg/realtime/protocol"
)

const (
	defaultConnectTimeout = 15 * time.Second
	closeWriteTimeout     = 2 * time.Second
)

// Subprotocols offered during the socket handshake.
const (
	subprotocolRealtime = "realtime"
	subprotocolBeta     = "openai-beta.realtime-v1"
)

type socketTransport struct {
	conn *websocket.Conn

	recv    chan []byte
	done    chan struct{}
	closeCh chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	muted     atomic.Bool

	errMu sync.Mutex
	err   error
}

// dialSocket performs the socket handshake: subprotocol negotiation plus
// bearer credential. Ready = socket open, so the read loop starts
// immediately.
func dialSocket(ctx context.Context, cfg Config) (*socketTransport, error) {
	wsURL, err := socketURL(cfg.BaseURL, cfg.Model)
	if err != nil {
		return nil, err
	}

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+cfg.Credential)

	dialer := &websocket.Dialer{
		HandshakeTimeout: defaultConnectTimeout,
		Subprotocols:     []string{subprotocolRealtime, subprotocolBeta},
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, core.NewTransportError(fmt.Sprintf("socket dial failed (status %d)", resp.StatusCode), err)
		}
		return nil, core.NewTransportError("socket dial failed", err)
	}

	t := &socketTransport{
		conn:    conn,
		recv:    make(chan []byte, 64),
		done:    make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func socketURL(baseURL, model string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", core.NewInvalidRequestErrorWithParam("invalid transport base URL", "base_url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", core.NewInvalidRequestErrorWithParam("unsupported transport URL scheme", u.Scheme)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *socketTransport) Kind() Kind { return KindSocket }

func (t *socketTransport) Send(data []byte) error {
	if t.closed.Load() {
		return core.NewTransportError("send on closed transport", nil)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return core.NewTransportError("socket write failed", err)
	}
	return nil
}

// SendAudio wraps the chunk into an input_audio_buffer.append command; the
// socket variant multiplexes audio and events over the one channel.
func (t *socketTransport) SendAudio(audio []byte) error {
	if t.muted.Load() {
		return nil
	}
	frame := protocol.NewInputAudioAppend(base64.StdEncoding.EncodeToString(audio))
	data, err := json.Marshal(frame)
	if err != nil {
		return core.NewInternalError("encode audio frame: " + err.Error())
	}
	return t.Send(data)
}

func (t *socketTransport) SetMuted(muted bool) {
	t.muted.Store(muted)
}

func (t *socketTransport) Receive() <-chan []byte {
	return t.recv
}

// Err blocks until the read loop has finished, then reports the terminal
// error. A clean close (local Close or a normal close frame) returns nil.
func (t *socketTransport) Err() error {
	<-t.done
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *socketTransport) setErr(err error) {
	if err == nil {
		return
	}
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *socketTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.closeCh)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWriteTimeout))
		t.writeMu.Unlock()
		_ = t.conn.Close()
	})
	<-t.done
	return nil
}

func (t *socketTransport) readLoop() {
	defer close(t.done)
	defer close(t.recv)

	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if t.closed.Load() {
				return
			}
			t.setErr(core.NewTransportError("socket read failed", err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		select {
		case t.recv <- append([]byte(nil), data...):
		case <-t.closeCh:
			return
		}
	}
}
