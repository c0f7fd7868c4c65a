package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/parlance-ai/parlance/pkg/core"
)

const (
	// dataChannelLabel names the discrete event side-channel.
	dataChannelLabel = "oai-events"
	// audioFrameDuration is the sample duration callers are expected to
	// supply per SendAudio chunk.
	audioFrameDuration = 20 * time.Millisecond
)

type peerTransport struct {
	pc         *webrtc.PeerConnection
	dc         *webrtc.DataChannel
	audioTrack *webrtc.TrackLocalStaticSample

	recv    chan []byte
	msgs    chan []byte
	done    chan struct{}
	closeCh chan struct{}

	signalOnce sync.Once
	closed     atomic.Bool
	muted      atomic.Bool

	errMu sync.Mutex
	err   error
}

// dialPeer performs the offer/answer handshake: local media plus the event
// side-channel, offer posted with the ephemeral credential, answer applied
// as the remote description. Ready is the side-channel opening, not the
// completion of media negotiation.
func dialPeer(ctx context.Context, cfg Config) (*peerTransport, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, core.NewTransportError("create peer connection", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "parlance")
	if err != nil {
		_ = pc.Close()
		return nil, core.NewTransportError("create audio track", err)
	}
	sender, err := pc.AddTrack(audioTrack)
	if err != nil {
		_ = pc.Close()
		return nil, core.NewTransportError("add audio track", err)
	}
	go drainRTCP(sender)

	// Inbound audio is drained and discarded; playback is the caller's
	// concern, not the transport's.
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return nil, core.NewTransportError("create event channel", err)
	}

	t := &peerTransport{
		pc:         pc,
		dc:         dc,
		audioTrack: audioTrack,
		recv:       make(chan []byte, 64),
		msgs:       make(chan []byte, 64),
		done:       make(chan struct{}),
		closeCh:    make(chan struct{}),
	}

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		data := append([]byte(nil), msg.Data...)
		select {
		case t.msgs <- data:
		case <-t.closeCh:
		}
	})
	dc.OnClose(func() {
		if t.closed.Load() {
			t.shutdown(nil)
			return
		}
		t.shutdown(core.NewTransportError("event channel closed by remote", nil))
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed:
			t.shutdown(core.NewTransportError("peer connection failed", nil))
		case webrtc.PeerConnectionStateClosed:
			t.shutdown(nil)
		}
	})
	go t.pump()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = t.Close()
		return nil, core.NewTransportError("create offer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = t.Close()
		return nil, core.NewTransportError("set local description", err)
	}
	select {
	case <-gathered:
	case <-dialCtx.Done():
		_ = t.Close()
		return nil, core.NewTransportError("candidate gathering timed out", dialCtx.Err())
	}

	answer, err := exchangeSDP(dialCtx, httpClient, cfg.BaseURL, cfg.Model, cfg.Credential, pc.LocalDescription().SDP)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		_ = t.Close()
		return nil, core.NewTransportError("set remote description", err)
	}

	select {
	case <-opened:
		return t, nil
	case <-t.done:
		_ = t.pc.Close()
		err := t.Err()
		if err == nil {
			err = core.NewTransportError("peer connection closed during handshake", nil)
		}
		return nil, err
	case <-dialCtx.Done():
		_ = t.Close()
		return nil, core.NewTransportError("event channel open timed out", dialCtx.Err())
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// exchangeSDP posts the local offer and returns the remote answer.
func exchangeSDP(ctx context.Context, client *http.Client, baseURL, model, credential, offerSDP string) (string, error) {
	endpoint, err := peerURL(baseURL, model)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return "", core.NewTransportError("build offer request", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := client.Do(req)
	if err != nil {
		return "", core.NewTransportError("offer exchange failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", core.NewTransportError("read answer", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", core.NewTransportError(fmt.Sprintf("offer exchange failed (status %d)", resp.StatusCode), nil)
	}
	return string(body), nil
}

func peerURL(baseURL, model string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", core.NewInvalidRequestErrorWithParam("invalid transport base URL", "base_url")
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", core.NewInvalidRequestErrorWithParam("unsupported transport URL scheme", u.Scheme)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *peerTransport) Kind() Kind { return KindPeer }

// Send transmits one event on the side-channel as text.
func (t *peerTransport) Send(data []byte) error {
	if t.closed.Load() {
		return core.NewTransportError("send on closed transport", nil)
	}
	if err := t.dc.SendText(string(data)); err != nil {
		return core.NewTransportError("event channel write failed", err)
	}
	return nil
}

// SendAudio writes one sample onto the continuous outbound track.
func (t *peerTransport) SendAudio(audio []byte) error {
	if t.muted.Load() {
		return nil
	}
	if t.closed.Load() {
		return core.NewTransportError("send on closed transport", nil)
	}
	if err := t.audioTrack.WriteSample(media.Sample{Data: audio, Duration: audioFrameDuration}); err != nil {
		return core.NewTransportError("audio track write failed", err)
	}
	return nil
}

func (t *peerTransport) SetMuted(muted bool) {
	t.muted.Store(muted)
}

func (t *peerTransport) Receive() <-chan []byte {
	return t.recv
}

func (t *peerTransport) Err() error {
	<-t.done
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *peerTransport) setErr(err error) {
	if err == nil {
		return
	}
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *peerTransport) shutdown(err error) {
	t.setErr(err)
	t.signalOnce.Do(func() { close(t.closeCh) })
}

func (t *peerTransport) Close() error {
	t.closed.Store(true)
	t.shutdown(nil)
	_ = t.pc.Close()
	<-t.done
	return nil
}

// pump forwards side-channel messages to Receive and owns its closure, so
// the channel closes exactly once however the transport went down.
func (t *peerTransport) pump() {
	defer close(t.done)
	defer close(t.recv)
	for {
		select {
		case data := <-t.msgs:
			select {
			case t.recv <- data:
			case <-t.closeCh:
				return
			}
		case <-t.closeCh:
			return
		}
	}
}
