package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/parlance-ai/parlance/pkg/core"
)

// Kind selects the transport variant.
type Kind string

const (
	// KindPeer is the peer-to-peer variant: media tracks plus a discrete
	// event side-channel.
	KindPeer Kind = "peer"
	// KindSocket is the message-oriented variant: events and base64 audio
	// multiplexed over one socket.
	KindSocket Kind = "socket"
)

// Transport is an open wire to the remote session. Implementations deliver
// inbound frames on Receive in arrival order, one frame per underlying
// message. Close is idempotent; Receive is closed exactly once, whether the
// shutdown was local or remote, and Err then reports the cause (nil for a
// clean close).
type Transport interface {
	// Send transmits one wire event.
	Send(data []byte) error
	// SendAudio forwards an audio chunk on the variant's audio path.
	// Chunks are dropped while muted.
	SendAudio(audio []byte) error
	// SetMuted gates the audio path without touching transport state.
	SetMuted(muted bool)
	// Receive yields inbound frames until the transport closes.
	Receive() <-chan []byte
	// Err blocks until the transport has fully closed, then reports the
	// terminal error, if any.
	Err() error
	// Close tears the transport down. Safe to call repeatedly.
	Close() error
	// Kind identifies the variant.
	Kind() Kind
}

// Config parameterizes a dial. Credential is the ephemeral secret for this
// session; it is used during the handshake and never stored.
type Config struct {
	Kind       Kind
	BaseURL    string // session endpoint, http(s) scheme
	Model      string
	Credential string
	HTTPClient *http.Client // peer SDP exchange; defaults to http.DefaultClient
}

func (c Config) validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return core.NewInvalidRequestErrorWithParam("transport base URL must not be empty", "base_url")
	}
	if strings.TrimSpace(c.Model) == "" {
		return core.NewInvalidRequestErrorWithParam("transport model must not be empty", "model")
	}
	if strings.TrimSpace(c.Credential) == "" {
		return core.NewCredentialError("transport credential must not be empty")
	}
	return nil
}

// Dial opens the transport variant selected by cfg.Kind and returns once it
// is ready to send: socket open for the socket variant, event side-channel
// open for the peer variant.
func Dial(ctx context.Context, cfg Config) (Transport, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindSocket:
		return dialSocket(ctx, cfg)
	case KindPeer:
		return dialPeer(ctx, cfg)
	default:
		return nil, core.NewInvalidRequestErrorWithParam("unknown transport kind", string(cfg.Kind))
	}
}
