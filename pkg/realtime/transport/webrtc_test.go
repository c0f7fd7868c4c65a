package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func TestPeerURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"https://api.example.com/v1/realtime", "https://api.example.com/v1/realtime?model=gpt-4o", false},
		{"wss://api.example.com/v1/realtime", "https://api.example.com/v1/realtime?model=gpt-4o", false},
		{"ws://localhost:8080/v1/realtime", "http://localhost:8080/v1/realtime?model=gpt-4o", false},
		{"gopher://example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := peerURL(tt.base, "gpt-4o")
			if (err != nil) != tt.wantErr {
				t.Fatalf("peerURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("peerURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExchangeSDP(t *testing.T) {
	t.Parallel()

	const answer = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ek_test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/sdp" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if r.URL.Query().Get("model") != "gpt-4o" {
			t.Errorf("model = %q", r.URL.Query().Get("model"))
		}
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			t.Error("offer body is empty")
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(answer))
	}))
	defer server.Close()

	got, err := exchangeSDP(context.Background(), http.DefaultClient, server.URL, "gpt-4o", "ek_test", "v=0\r\n")
	if err != nil {
		t.Fatalf("exchangeSDP() error = %v", err)
	}
	if got != answer {
		t.Errorf("answer = %q, want %q", got, answer)
	}
}

func TestExchangeSDP_UpstreamRejection(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid ephemeral key", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := exchangeSDP(context.Background(), http.DefaultClient, server.URL, "gpt-4o", "ek_bad", "v=0\r\n")
	if err == nil {
		t.Fatal("exchangeSDP() error = nil, want error")
	}
}

// TestDialPeer_Loopback runs a full offer/answer handshake against an
// in-process answerer and exchanges one event over the side-channel.
func TestDialPeer_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("loopback ICE handshake is slow")
	}

	answerer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("answerer: %v", err)
	}
	defer answerer.Close()

	answerer.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			_ = dc.SendText(`{"type":"session.created"}`)
		})
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offerSDP, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(offerSDP)}
		if err := answerer.SetRemoteDescription(offer); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		answer, err := answerer.CreateAnswer(nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		gathered := webrtc.GatheringCompletePromise(answerer)
		if err := answerer.SetLocalDescription(answer); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		<-gathered
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(answerer.LocalDescription().SDP))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tr, err := Dial(ctx, Config{
		Kind:       KindPeer,
		BaseURL:    server.URL,
		Model:      "gpt-4o-realtime-preview",
		Credential: "ek_test",
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer tr.Close()

	if tr.Kind() != KindPeer {
		t.Fatalf("Kind() = %v", tr.Kind())
	}

	if err := tr.Send([]byte(`{"type":"session.update","session":{}}`)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case data, ok := <-tr.Receive():
		if !ok {
			t.Fatalf("transport closed early: %v", tr.Err())
		}
		if string(data) != `{"type":"session.created"}` {
			t.Fatalf("received %q", data)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for side-channel event")
	}
}
