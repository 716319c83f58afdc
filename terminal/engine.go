// Package terminal implements the per-session state machine that drives one
// remote PTY through a framed transport channel.
//
// An Engine owns exactly one transport channel and one render Surface. All
// transitions happen in reaction to transport events or caller operations;
// nothing blocks. States:
//
//	Idle ──connect()──▶ Connecting ──"connected"──▶ Open
//	  ▲                     │                          │
//	  └───── transport error/close ◀───────────────────┘
package terminal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/termbridge/termbridge/cwdtrack"
	"github.com/termbridge/termbridge/logging"
	"github.com/termbridge/termbridge/protocol"
	"github.com/termbridge/termbridge/transport"
)

var logf = logging.Component("engine")

// State is the engine's connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Status is the session's connection status, including the identity the
// bridge echoed back once the handshake completed.
type Status struct {
	Connected bool   `json:"connected"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Events are the engine's typed outbound notifications. Nil members are
// skipped. Subscribers are wired explicitly at construction; the engine
// never reaches into other components.
type Events struct {
	// StatusChange fires on every connection state transition.
	StatusChange func(Status)
	// CwdChange fires when the cwd heuristic detects a directory change.
	CwdChange func(dir string)
	// UserError fires for user-visible failures (transport errors and
	// server-reported error envelopes). Never fatal to the engine.
	UserError func(msg string)
}

// Link is the engine's view of its transport channel.
type Link interface {
	Open(ctx context.Context, endpoint string)
	Send(frame []byte)
	Close()
	State() transport.State
}

// LinkFactory constructs an unopened Link delivering events to cb.
// Injectable so tests can substitute an in-memory link.
type LinkFactory func(cb transport.Callbacks) Link

// NetLink is the default LinkFactory, backed by transport.NewChannel.
func NetLink(cb transport.Callbacks) Link {
	return transport.NewChannel(cb)
}

// Dimension defaults used when the render surface is not yet laid out.
const (
	DefaultCols = 80
	DefaultRows = 24
)

// DefaultResizeDebounce bounds how often resize envelopes are sent while
// the layout is being dragged.
const DefaultResizeDebounce = 250 * time.Millisecond

// defaultRefitDelay lets the layout settle before the surface is refit
// after a font-affecting settings change.
const defaultRefitDelay = 50 * time.Millisecond

// Options configure a new Engine.
type Options struct {
	// Endpoint is the bridge websocket endpoint (see transport.BuildEndpoint).
	Endpoint string
	// Descriptor is the session's connection descriptor. Read-only after
	// construction except for Connect-time overrides.
	Descriptor protocol.Credentials
	// Surface is the paired render surface. Required.
	Surface Surface
	// Events are the engine's subscribers.
	Events Events
	// NewLink defaults to NetLink.
	NewLink LinkFactory
	// ResizeDebounce defaults to DefaultResizeDebounce.
	ResizeDebounce time.Duration
	// RefitDelay defaults to a small settle delay.
	RefitDelay time.Duration
	// Settings are the initial visual settings.
	Settings Settings
}

// Engine drives one remote-shell session: it owns the transport channel,
// forwards input and resizes, dispatches inbound envelopes, and reports
// status, cwd, and error events.
type Engine struct {
	endpoint   string
	newLink    LinkFactory
	surface    Surface
	events     Events
	debounce   time.Duration
	refitDelay time.Duration

	mu          sync.Mutex
	desc        protocol.Credentials
	state       State
	spinner     bool // user-facing "connecting" indicator
	link        Link
	status      Status
	settings    Settings
	resizeTimer *time.Timer
	since       time.Time // when the current state was entered
}

// NewEngine creates an idle engine. No transport is opened until Connect.
func NewEngine(opts Options) *Engine {
	newLink := opts.NewLink
	if newLink == nil {
		newLink = NetLink
	}
	debounce := opts.ResizeDebounce
	if debounce <= 0 {
		debounce = DefaultResizeDebounce
	}
	refitDelay := opts.RefitDelay
	if refitDelay <= 0 {
		refitDelay = defaultRefitDelay
	}
	return &Engine{
		endpoint:   opts.Endpoint,
		newLink:    newLink,
		surface:    opts.Surface,
		events:     opts.Events,
		debounce:   debounce,
		refitDelay: refitDelay,
		desc:       opts.Descriptor,
		settings:   opts.Settings,
		since:      time.Now(),
	}
}

// Connect opens the transport channel and, once it is open, sends the
// connect envelope. A nil override keeps the stored descriptor; non-empty
// override fields replace the stored ones. Calling Connect while already
// Connecting or Open is a no-op. Validation failures are returned
// synchronously before any network action.
func (e *Engine) Connect(override *protocol.Credentials) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return nil
	}

	desc := e.desc
	if override != nil {
		desc = mergeDescriptor(desc, *override)
	}
	if desc.Hostname == "" {
		e.mu.Unlock()
		return fmt.Errorf("connect: hostname is required")
	}
	if desc.Username == "" {
		e.mu.Unlock()
		return fmt.Errorf("connect: username is required")
	}

	e.desc = desc
	e.state = StateConnecting
	e.spinner = true
	e.since = time.Now()
	endpoint := e.endpoint
	e.mu.Unlock()

	link := e.newLink(transport.Callbacks{
		OnOpen:    e.handleTransportOpen,
		OnMessage: e.handleFrame,
		OnClose:   e.handleTransportClose,
		OnError:   e.handleTransportError,
	})

	e.mu.Lock()
	if e.state != StateConnecting {
		// Disconnected while the link was being built.
		e.mu.Unlock()
		link.Close()
		return nil
	}
	e.link = link
	e.mu.Unlock()

	// The link is stored before opening so callbacks always see it.
	link.Open(context.Background(), endpoint)
	return nil
}

// mergeDescriptor overlays the non-empty override fields on base. The stored
// descriptor is only replaced once the merged result validates.
func mergeDescriptor(base, override protocol.Credentials) protocol.Credentials {
	if override.Hostname != "" {
		base.Hostname = override.Hostname
	}
	if override.Port != 0 {
		base.Port = override.Port
	}
	if override.Username != "" {
		base.Username = override.Username
	}
	if override.Password != "" {
		base.Password = override.Password
	}
	return base
}

// handleTransportOpen sends the connect envelope carrying credentials and
// the current terminal dimensions, falling back to the safe minimum when
// the surface has not been laid out yet.
func (e *Engine) handleTransportOpen() {
	e.mu.Lock()
	if e.state != StateConnecting {
		e.mu.Unlock()
		return
	}
	desc := e.desc
	link := e.link
	e.mu.Unlock()

	cols, rows := 0, 0
	if e.surface != nil {
		cols, rows = e.surface.Size()
	}
	if cols <= 0 {
		cols = DefaultCols
	}
	if rows <= 0 {
		rows = DefaultRows
	}

	frame, err := protocol.EncodeConnect(desc, cols, rows)
	if err != nil {
		logf.Printf("encode connect: %v", err)
		return
	}
	if link != nil {
		link.Send(frame)
	}
}

// handleFrame dispatches one inbound frame, exhaustively over envelope
// kinds. Unrecognized kinds are ignored for forward compatibility.
func (e *Engine) handleFrame(frame []byte) {
	msg := protocol.DecodeServer(frame)

	switch msg.Kind {
	case protocol.KindConnected:
		e.mu.Lock()
		e.state = StateOpen
		e.spinner = false
		e.since = time.Now()
		e.status = Status{
			Connected: true,
			Host:      msg.Identity.Host,
			Port:      msg.Identity.Port,
			Username:  msg.Identity.Username,
		}
		st := e.status
		e.mu.Unlock()
		e.emitStatus(st)

	case protocol.KindOutput:
		if e.surface != nil {
			e.surface.Write([]byte(msg.Data))
		}

	case protocol.KindError:
		// Server-reported errors are not fatal: the engine stays in its
		// current connection state and the server closes the transport
		// itself if the failure is.
		e.mu.Lock()
		e.spinner = false
		e.mu.Unlock()
		if e.surface != nil {
			e.surface.Write([]byte("\r\n" + msg.Message + "\r\n"))
		}
		e.emitUserError(msg.Message)

	case protocol.KindDisconnected:
		// Informational only. The transport's own close event drives the
		// disconnect transition, so a belated envelope arriving after a
		// reconnect cannot knock a fresh session back to Idle.
		logf.Printf("bridge reported disconnect for %s", e.Descriptor().Addr())

	default:
		// Unknown kind: ignored.
	}
}

func (e *Engine) handleTransportError(err error) {
	if e.surface != nil {
		e.surface.Write([]byte(fmt.Sprintf("\r\nconnection error: %v\r\n", err)))
	}
	e.emitUserError(err.Error())
	// A failed dial never produces a close event, so the error itself
	// drives the return to Idle. toIdle is a no-op if close already ran.
	e.toIdle()
}

func (e *Engine) handleTransportClose() {
	e.toIdle()
}

// toIdle returns the engine to Idle and reports the disconnected status.
// Safe to call from any state; a no-op when already Idle.
func (e *Engine) toIdle() {
	e.mu.Lock()
	if e.state == StateIdle {
		e.mu.Unlock()
		return
	}
	e.state = StateIdle
	e.spinner = false
	e.since = time.Now()
	link := e.link
	e.link = nil
	e.status.Connected = false
	st := e.status
	e.mu.Unlock()

	if link != nil {
		link.Close()
	}
	e.emitStatus(st)
}

// Disconnect closes the transport channel if present. It is idempotent and
// always emits a status-change event reporting disconnected.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	link := e.link
	e.link = nil
	e.state = StateIdle
	e.spinner = false
	e.since = time.Now()
	if e.resizeTimer != nil {
		e.resizeTimer.Stop()
		e.resizeTimer = nil
	}
	e.status.Connected = false
	st := e.status
	e.mu.Unlock()

	if link != nil {
		if frame, err := protocol.EncodeDisconnect(); err == nil {
			link.Send(frame)
		}
		link.Close()
	}
	e.emitStatus(st)
}

// SendInput forwards keystrokes or paste data. Input is only forwarded
// while the session is Open; otherwise it is dropped, not queued. A
// carriage-return keystroke additionally triggers the cwd heuristic on the
// line under the cursor.
func (e *Engine) SendInput(data string) {
	e.mu.Lock()
	link := e.link
	open := e.state == StateOpen
	e.mu.Unlock()

	if !open || link == nil {
		return
	}

	frame, err := protocol.EncodeInput(data)
	if err != nil {
		logf.Printf("encode input: %v", err)
		return
	}
	link.Send(frame)

	if data == "\r" {
		e.scanCwd()
	}
}

// scanCwd runs the cwd heuristic over the line at the current cursor row.
// Any panic from malformed buffer state is swallowed: this is best-effort
// UX, not protocol-critical.
func (e *Engine) scanCwd() {
	defer func() {
		if r := recover(); r != nil {
			logf.Printf("cwd scan failed: %v", r)
		}
	}()

	if e.surface == nil || e.events.CwdChange == nil {
		return
	}

	line := strings.TrimSpace(e.surface.Line(e.surface.CursorRow()))
	if dir := cwdtrack.Extract(line); dir != "" {
		e.events.CwdChange(dir)
	}
}

// Resize schedules a resize envelope, debounced so a drag does not flood
// the bridge. The envelope is only sent if both dimensions are positive and
// the session is Open; nothing is ever sent before the first successful
// connection.
func (e *Engine) Resize(cols, rows int) {
	e.mu.Lock()
	if e.resizeTimer != nil {
		e.resizeTimer.Stop()
	}
	e.resizeTimer = time.AfterFunc(e.debounce, func() {
		e.sendResize(cols, rows)
	})
	e.mu.Unlock()
}

func (e *Engine) sendResize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}

	e.mu.Lock()
	link := e.link
	open := e.state == StateOpen
	e.mu.Unlock()

	if !open || link == nil {
		return
	}

	frame, err := protocol.EncodeResize(cols, rows)
	if err != nil {
		logf.Printf("encode resize: %v", err)
		return
	}
	link.Send(frame)
}

// ApplySettings merges a partial settings patch. Accepted in any state. A
// font-affecting change triggers an asynchronous surface refit once the
// layout has settled.
func (e *Engine) ApplySettings(patch SettingsPatch) {
	e.mu.Lock()
	fontChanged := e.settings.Apply(patch)
	surface := e.surface
	e.mu.Unlock()

	if fontChanged && surface != nil {
		time.AfterFunc(e.refitDelay, surface.Refit)
	}
}

// Settings returns the engine's current settings copy.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// State returns the engine's connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// StateSince returns when the current state was entered. Used by the
// registry janitor to detect stalled connects.
func (e *Engine) StateSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.since
}

// Connecting reports whether the user-facing connecting indicator is set.
// Cleared by a server error envelope even though the state machine itself
// only leaves Connecting on transport close.
func (e *Engine) Connecting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spinner
}

// Status returns the last reported connection status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Descriptor returns a copy of the session's connection descriptor.
func (e *Engine) Descriptor() protocol.Credentials {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.desc
}

// Destroy tears the engine down: it disconnects unconditionally and
// releases the render surface.
func (e *Engine) Destroy() {
	e.Disconnect()
	if e.surface != nil {
		e.surface.Close()
	}
}

func (e *Engine) emitStatus(st Status) {
	if e.events.StatusChange != nil {
		e.events.StatusChange(st)
	}
}

func (e *Engine) emitUserError(msg string) {
	if e.events.UserError != nil {
		e.events.UserError(msg)
	}
}
