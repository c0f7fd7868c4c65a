// Package realtime manages the lifecycle of one streaming conversation
// session: connecting a transport, pushing session configuration, routing
// inbound protocol events into the transcript and the tool orchestrator,
// and surfacing state changes to the UI as a single event stream.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parlance-ai/parlance/pkg/agents"
	"github.com/parlance-ai/parlance/pkg/core"
	"github.com/parlance-ai/parlance/pkg/realtime/protocol"
	"github.com/parlance-ai/parlance/pkg/realtime/transcript"
	"github.com/parlance-ai/parlance/pkg/realtime/transport"
	"github.com/parlance-ai/parlance/pkg/supervisor"
)

const (
	// DefaultDelegationTool is the front-agent tool whose invocation routes
	// a "next action" request into the supervisor loop.
	DefaultDelegationTool = "getNextResponse"

	defaultToolTimeout      = 30 * time.Second
	defaultGuardrailTimeout = 5 * time.Second
	openingMessageDelay     = 500 * time.Millisecond
	eventBufferSize         = 128
)

// Config parameterizes a Manager.
type Config struct {
	// Agents is the capability set; the registry's active agent defines the
	// session's instructions and tool declarations. Required.
	Agents *agents.Registry
	// Transport selects the adapter variant. Defaults to the socket variant.
	Transport transport.Kind
	// BaseURL is the remote session endpoint. Required.
	BaseURL string
	// Model is the conversational model. Required.
	Model string
	// Voice selects the spoken voice, when audio is in play.
	Voice string
	// CompanyName is passed to guardrails as context.
	CompanyName string
	// OpeningMessage, when set, is sent once shortly after connecting to
	// seed the conversation.
	OpeningMessage string
	// TurnDetection overrides the server-side voice activity policy.
	TurnDetection *protocol.TurnDetection

	// Responder resolves delegated "next action" requests. When nil, the
	// delegation tool answers with a placeholder like any unmapped tool.
	Responder supervisor.Responder
	// SupervisorInstructions is the system prompt for the resolving agent.
	SupervisorInstructions string
	// SupervisorTools declares the tool schema submitted with each
	// resolution round.
	SupervisorTools []core.ToolSchema
	// SupervisorHandlers maps supervisor tool names to their executors.
	SupervisorHandlers map[string]supervisor.Handler
	// DelegationTool names the front-agent tool that triggers the loop.
	// Defaults to DefaultDelegationTool.
	DelegationTool string
	// LocalTools run directly on this client when the remote model calls
	// them, without involving the supervisor.
	LocalTools map[string]supervisor.Handler
	// ToolTimeout bounds a single tool resolution, delegated or local.
	ToolTimeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the transcript timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithDialer overrides transport construction. Tests use this to splice in
// a fake transport.
func WithDialer(dial func(ctx context.Context, cfg transport.Config) (transport.Transport, error)) Option {
	return func(m *Manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

// session is the owned, explicitly-lifetimed state of one connection. It is
// created by Connect and discarded by Disconnect or a transport failure; the
// manager never holds two at once.
type session struct {
	tr   transport.Transport
	agg  *transcript.Aggregator
	done chan struct{}

	// ctx scopes all work spawned on behalf of this session; Disconnect
	// cancels it so in-flight tool resolutions unwind immediately.
	ctx    context.Context
	cancel context.CancelFunc

	// Guarded by the manager's mutex.
	activeResponseID string
}

// Manager owns at most one live session and is safe for use from any
// goroutine. Inbound protocol events are processed on a single dispatch
// flow in arrival order.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	dial   func(ctx context.Context, cfg transport.Config) (transport.Transport, error)
	loop   *supervisor.Loop

	events chan Event

	mu      sync.Mutex
	status  Status
	sess    *session
	muted   bool
	attempt uint64
}

// NewManager validates cfg and creates a disconnected manager.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.Agents == nil {
		return nil, core.NewInvalidRequestErrorWithParam("agent registry is required", "agents")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("base URL is required", "base_url")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("model is required", "model")
	}
	if cfg.Transport == "" {
		cfg.Transport = transport.KindSocket
	}
	if cfg.DelegationTool == "" {
		cfg.DelegationTool = DefaultDelegationTool
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}

	m := &Manager{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		dial:   transport.Dial,
		events: make(chan Event, eventBufferSize),
		status: StatusDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "realtime")

	if cfg.Responder != nil {
		loopOpts := []supervisor.LoopOption{
			supervisor.WithLogger(m.logger.With("component", "supervisor")),
			supervisor.WithBreadcrumbs(func(b supervisor.Breadcrumb) {
				m.emit(BreadcrumbEvent{Text: "supervisor tool " + b.Tool + "(" + b.Arguments + ") -> " + b.Result})
			}),
		}
		for name, handler := range cfg.SupervisorHandlers {
			loopOpts = append(loopOpts, supervisor.WithTool(name, handler))
		}
		m.loop = supervisor.NewLoop(cfg.Responder, loopOpts...)
	}
	return m, nil
}

// Events yields session notifications. Emission is non-blocking: a slow or
// absent consumer drops notifications rather than stalling the dispatch
// flow.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) emit(event Event) {
	select {
	case m.events <- event:
	default:
		// Avoid wedging the dispatch flow if the consumer stops reading.
	}
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ActiveAgent returns the name of the active capability set.
func (m *Manager) ActiveAgent() string {
	return m.cfg.Agents.Active().Name
}

// Transcript returns a copy of the conversation items in creation order.
func (m *Manager) Transcript() []transcript.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil
	}
	return m.sess.agg.Items()
}

// Connect establishes a session: fetch the ephemeral credential, dial the
// transport, push the initial configuration, and wait for the remote to
// acknowledge readiness. A call while a session is pending or active is a
// no-op. Any failure tears the attempt down completely and surfaces one
// status change back to DISCONNECTED.
func (m *Manager) Connect(ctx context.Context, creds CredentialProvider) error {
	m.mu.Lock()
	if m.status != StatusDisconnected {
		m.mu.Unlock()
		m.logger.Debug("connect ignored", "status", m.status)
		return nil
	}
	m.status = StatusConnecting
	m.attempt++
	attempt := m.attempt
	m.mu.Unlock()
	m.emit(StatusChangedEvent{Status: StatusConnecting})

	tr, sess, err := m.establish(ctx, creds)
	if err != nil {
		if tr != nil {
			_ = tr.Close()
		}
		m.mu.Lock()
		owns := m.attempt == attempt && m.status == StatusConnecting
		if owns {
			m.status = StatusDisconnected
		}
		m.mu.Unlock()
		m.logger.Error("connect failed", "error", err)
		if owns {
			// An attempt Disconnect already aborted was announced as
			// DISCONNECTED at that point; it stays silent here.
			m.emit(ErrorEvent{Err: err})
			m.emit(StatusChangedEvent{Status: StatusDisconnected})
		}
		return err
	}

	m.mu.Lock()
	if m.attempt != attempt || m.status != StatusConnecting {
		// Disconnect, or a newer attempt, won the race; release the
		// transport instead of installing a session nobody asked for.
		m.mu.Unlock()
		sess.cancel()
		_ = tr.Close()
		return nil
	}
	m.sess = sess
	m.status = StatusConnected
	muted := m.muted
	m.mu.Unlock()

	tr.SetMuted(muted)
	m.logger.Info("session connected", "transport", tr.Kind(), "agent", m.cfg.Agents.Active().Name)
	m.emit(StatusChangedEvent{Status: StatusConnected})
	go m.dispatchLoop(sess)

	if m.cfg.OpeningMessage != "" {
		go m.sendOpening(sess)
	}
	return nil
}

// establish runs the failable part of Connect. On error the returned
// transport, if any, still needs closing.
func (m *Manager) establish(ctx context.Context, creds CredentialProvider) (transport.Transport, *session, error) {
	if creds == nil {
		return nil, nil, core.NewCredentialError("no credential provider configured")
	}
	secret, err := creds(ctx)
	if err != nil {
		if _, ok := core.AsError(err); ok {
			return nil, nil, err
		}
		return nil, nil, core.NewCredentialError("credential fetch failed: " + err.Error())
	}
	if strings.TrimSpace(secret) == "" {
		return nil, nil, core.NewCredentialError("credential provider returned an empty credential")
	}

	tr, err := m.dial(ctx, transport.Config{
		Kind:       m.cfg.Transport,
		BaseURL:    m.cfg.BaseURL,
		Model:      m.cfg.Model,
		Credential: secret,
	})
	if err != nil {
		return nil, nil, err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		tr:     tr,
		agg:    transcript.New(m.now),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: cancel,
	}

	// The configuration push is the first command once the transport is
	// ready to send.
	if err := m.pushSessionConfig(sess, m.cfg.Agents.Active()); err != nil {
		cancel()
		return tr, nil, err
	}
	if err := m.awaitReady(ctx, sess); err != nil {
		cancel()
		return tr, nil, err
	}
	return tr, sess, nil
}

// awaitReady routes inbound events until the remote acknowledges the
// session, honoring the connect context's deadline.
func (m *Manager) awaitReady(ctx context.Context, sess *session) error {
	for {
		select {
		case data, ok := <-sess.tr.Receive():
			if !ok {
				if err := sess.tr.Err(); err != nil {
					return err
				}
				return core.NewTransportError("transport closed during session negotiation", nil)
			}
			if m.handleFrame(sess, data) {
				return nil
			}
		case <-ctx.Done():
			return core.NewTransportError("session negotiation timed out", ctx.Err())
		}
	}
}

// Disconnect tears down the session and releases the transport. Idempotent
// and safe to call from any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	wasDisconnected := m.status == StatusDisconnected
	m.status = StatusDisconnected
	m.mu.Unlock()

	if sess != nil {
		// Cancel first so an in-flight tool resolution unwinds instead of
		// holding the dispatch flow until its timeout.
		sess.cancel()
		_ = sess.tr.Close()
		<-sess.done
	}
	if !wasDisconnected {
		m.logger.Info("session disconnected")
		m.emit(StatusChangedEvent{Status: StatusDisconnected})
	}
}

// SendUserText appends a user message and triggers generation. Requires a
// connected session; empty text or a disconnected session is a logged
// no-op, never a queued send.
func (m *Manager) SendUserText(text string) error {
	if strings.TrimSpace(text) == "" {
		m.logger.Warn("ignoring empty user text")
		return nil
	}
	m.mu.Lock()
	sess := m.sess
	if m.status != StatusConnected || sess == nil {
		m.mu.Unlock()
		m.logger.Warn("rejecting user text while not connected", "status", m.status)
		return nil
	}
	id := "item_" + uuid.NewString()
	sess.agg.ItemCreated(id, core.RoleUser)
	item, _ := sess.agg.Complete(id, text)
	m.mu.Unlock()
	m.emit(TranscriptUpdatedEvent{Item: item})

	if err := m.sendCommand(sess, protocol.NewUserMessageItem(id, text)); err != nil {
		return err
	}
	return m.sendCommand(sess, protocol.NewResponseCreate())
}

// Interrupt cancels any in-flight generation. Best-effort: it only
// guarantees the cancellation command was sent. A no-op while not
// connected.
func (m *Manager) Interrupt() error {
	m.mu.Lock()
	sess := m.sess
	var responseID string
	if sess != nil {
		responseID = sess.activeResponseID
	}
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if !connected || sess == nil {
		m.logger.Warn("rejecting interrupt while not connected", "status", m.status)
		return nil
	}
	return m.sendCommand(sess, protocol.NewResponseCancel(responseID))
}

// Mute gates local audio emission without touching transport state. The
// flag survives reconnects.
func (m *Manager) Mute(muted bool) {
	m.mu.Lock()
	m.muted = muted
	sess := m.sess
	m.mu.Unlock()
	if sess != nil {
		sess.tr.SetMuted(muted)
	}
}

// SendAudio forwards one audio chunk on the transport's audio path.
// Requires a connected session; chunks are dropped silently while muted.
func (m *Manager) SendAudio(pcm []byte) error {
	m.mu.Lock()
	sess := m.sess
	connected := m.status == StatusConnected
	m.mu.Unlock()
	if !connected || sess == nil {
		return nil
	}
	return sess.tr.SendAudio(pcm)
}

// SwitchAgent hands the conversation to another capability set. Requires a
// connected session and a handoff-reachable target; rejections are logged
// and returned, and leave the active agent unchanged.
func (m *Manager) SwitchAgent(name string) error {
	m.mu.Lock()
	sess := m.sess
	connected := m.status == StatusConnected
	m.mu.Unlock()
	if !connected || sess == nil {
		err := core.NewInvalidRequestError("cannot switch agent while not connected")
		m.logger.Warn("agent switch rejected", "target", name, "error", err)
		return err
	}

	from := m.cfg.Agents.Active().Name
	def, err := m.cfg.Agents.SetActive(name)
	if err != nil {
		m.logger.Warn("agent switch rejected", "target", name, "error", err)
		return err
	}
	if err := m.pushSessionConfig(sess, def); err != nil {
		return err
	}
	m.logger.Info("agent handoff", "from", from, "to", def.Name)
	m.emit(BreadcrumbEvent{Text: "handoff: " + from + " -> " + def.Name})
	return nil
}

func (m *Manager) pushSessionConfig(sess *session, def agents.Definition) error {
	cfg := protocol.SessionConfig{
		Modalities:              []string{"text", "audio"},
		Instructions:            def.Instructions,
		Voice:                   m.cfg.Voice,
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &protocol.TranscriptionConfig{Model: "whisper-1"},
		TurnDetection:           m.cfg.TurnDetection,
		ToolChoice:              "auto",
	}
	if cfg.TurnDetection == nil {
		cfg.TurnDetection = &protocol.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 500,
		}
	}
	for _, tool := range def.Tools {
		params, err := json.Marshal(tool.Parameters)
		if err != nil || tool.Parameters == nil {
			params = nil
		}
		cfg.Tools = append(cfg.Tools, protocol.ToolDecl{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		})
	}
	return m.sendCommand(sess, protocol.NewSessionUpdate(cfg))
}

func (m *Manager) sendCommand(sess *session, command any) error {
	data, err := json.Marshal(command)
	if err != nil {
		return core.NewInternalError("encode command: " + err.Error())
	}
	if err := sess.tr.Send(data); err != nil {
		m.logger.Error("command send failed", "error", err)
		return err
	}
	return nil
}

// dispatchLoop is the session's single control flow: it drains the
// transport in arrival order and owns all transcript mutation. When the
// transport closes underneath us, the session is discarded and one terminal
// status change is emitted.
func (m *Manager) dispatchLoop(sess *session) {
	defer close(sess.done)
	defer sess.cancel()
	for data := range sess.tr.Receive() {
		m.handleFrame(sess, data)
	}
	cause := sess.tr.Err()

	m.mu.Lock()
	if m.sess != sess {
		// Disconnect already discarded this session and will emit the
		// status change itself.
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.status = StatusDisconnected
	m.mu.Unlock()

	_ = sess.tr.Close()
	if cause != nil {
		m.logger.Error("transport failed", "error", cause)
		m.emit(ErrorEvent{Err: cause})
	} else {
		m.logger.Info("remote closed the session")
	}
	m.emit(StatusChangedEvent{Status: StatusDisconnected})
}

func (m *Manager) sendOpening(sess *session) {
	timer := time.NewTimer(openingMessageDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-sess.done:
		return
	}
	m.mu.Lock()
	current := m.sess
	m.mu.Unlock()
	if current != sess {
		return
	}
	if err := m.SendUserText(m.cfg.OpeningMessage); err != nil {
		m.logger.Warn("opening message failed", "error", err)
	}
}
