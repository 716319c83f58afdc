package terminal

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/termbridge/termbridge/protocol"
	"github.com/termbridge/termbridge/transport"
)

// fakeLink is an in-memory Link driven by the test: the test flips it open,
// injects server frames, and closes it through the recorded callbacks.
type fakeLink struct {
	mu     sync.Mutex
	cb     transport.Callbacks
	state  transport.State
	sent   [][]byte
	closes int
}

func (l *fakeLink) Open(ctx context.Context, endpoint string) {
	l.mu.Lock()
	l.state = transport.StateConnecting
	l.mu.Unlock()
}

func (l *fakeLink) Send(frame []byte) {
	l.mu.Lock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	l.sent = append(l.sent, cp)
	l.mu.Unlock()
}

func (l *fakeLink) Close() {
	l.mu.Lock()
	l.state = transport.StateClosed
	l.closes++
	l.mu.Unlock()
}

func (l *fakeLink) State() transport.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// serverOpen simulates a successful dial.
func (l *fakeLink) serverOpen() {
	l.mu.Lock()
	l.state = transport.StateOpen
	l.mu.Unlock()
	l.cb.OnOpen()
}

// serverSend simulates one inbound frame.
func (l *fakeLink) serverSend(frame string) {
	l.cb.OnMessage([]byte(frame))
}

// serverClose simulates the transport ending.
func (l *fakeLink) serverClose() {
	l.mu.Lock()
	l.state = transport.StateClosed
	l.mu.Unlock()
	l.cb.OnClose()
}

func (l *fakeLink) sentFrames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.sent))
	for i, f := range l.sent {
		out[i] = string(f)
	}
	return out
}

type recorder struct {
	mu       sync.Mutex
	statuses []Status
	cwds     []string
	errors   []string
}

func (r *recorder) events() Events {
	return Events{
		StatusChange: func(st Status) {
			r.mu.Lock()
			r.statuses = append(r.statuses, st)
			r.mu.Unlock()
		},
		CwdChange: func(dir string) {
			r.mu.Lock()
			r.cwds = append(r.cwds, dir)
			r.mu.Unlock()
		},
		UserError: func(msg string) {
			r.mu.Lock()
			r.errors = append(r.errors, msg)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) lastStatus(t *testing.T) Status {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		t.Fatal("no status events recorded")
	}
	return r.statuses[len(r.statuses)-1]
}

type harness struct {
	link    *fakeLink
	surface *ScreenBuffer
	rec     *recorder
	engine  *Engine
}

func newHarness(t *testing.T, desc protocol.Credentials) *harness {
	t.Helper()
	h := &harness{
		link:    &fakeLink{},
		surface: NewScreenBuffer(0),
		rec:     &recorder{},
	}
	h.engine = NewEngine(Options{
		Endpoint:       "ws://bridge.test/ws/ssh-pty",
		Descriptor:     desc,
		Surface:        h.surface,
		Events:         h.rec.events(),
		ResizeDebounce: 10 * time.Millisecond,
		RefitDelay:     5 * time.Millisecond,
		NewLink: func(cb transport.Callbacks) Link {
			h.link.cb = cb
			return h.link
		},
	})
	return h
}

func validDesc() protocol.Credentials {
	return protocol.Credentials{Hostname: "h1", Port: 22, Username: "alice", Password: "pw"}
}

// connectOpen drives the engine to Open: connect, transport open, bridge
// handshake confirmation.
func (h *harness) connectOpen(t *testing.T) {
	t.Helper()
	if err := h.engine.Connect(nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.link.serverOpen()
	h.link.serverSend(`{"type":"connected","host":"h1","port":22,"username":"alice"}`)
	if h.engine.State() != StateOpen {
		t.Fatalf("expected open state, got %s", h.engine.State())
	}
}

func TestEngine_ConnectValidation(t *testing.T) {
	tests := []struct {
		name string
		desc protocol.Credentials
	}{
		{"missing hostname", protocol.Credentials{Username: "alice"}},
		{"missing username", protocol.Credentials{Hostname: "h1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.desc)
			if err := h.engine.Connect(nil); err == nil {
				t.Fatal("expected validation error")
			}
			if h.engine.State() != StateIdle {
				t.Errorf("validation failure must not change state, got %s", h.engine.State())
			}
			if h.link.State() != transport.StateIdle {
				t.Error("no transport may be opened on validation failure")
			}
		})
	}
}

func TestEngine_RejectedOverrideLeavesDescriptorUntouched(t *testing.T) {
	h := newHarness(t, protocol.Credentials{Hostname: "h1"})

	// Username is still missing, so the merged result fails validation and
	// the stored descriptor must not pick up the override's fields.
	if err := h.engine.Connect(&protocol.Credentials{Hostname: "h2", Port: 2222}); err == nil {
		t.Fatal("expected validation error")
	}

	got := h.engine.Descriptor()
	if got.Hostname != "h1" || got.Port != 0 {
		t.Errorf("rejected connect must not mutate the descriptor: %+v", got)
	}
	if h.engine.State() != StateIdle {
		t.Errorf("validation failure must not change state, got %s", h.engine.State())
	}
}

func TestEngine_ConnectSendsHandshakeWithDefaultDimensions(t *testing.T) {
	h := newHarness(t, validDesc())

	if err := h.engine.Connect(nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if h.engine.State() != StateConnecting {
		t.Fatalf("expected connecting, got %s", h.engine.State())
	}
	if !h.engine.Connecting() {
		t.Error("connecting indicator should be set")
	}

	h.link.serverOpen()

	frames := h.link.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("expected exactly the connect envelope, got %d frames", len(frames))
	}

	var got struct {
		Type        string               `json:"type"`
		Credentials protocol.Credentials `json:"credentials"`
		ColWidth    int                  `json:"col_width"`
		RowHeight   int                  `json:"row_height"`
	}
	if err := json.Unmarshal([]byte(frames[0]), &got); err != nil {
		t.Fatalf("unmarshal connect frame: %v", err)
	}
	if got.Type != "connect" {
		t.Errorf("expected connect, got %q", got.Type)
	}
	if got.Credentials.Hostname != "h1" || got.Credentials.Username != "alice" {
		t.Errorf("unexpected credentials: %+v", got.Credentials)
	}
	// Surface was never laid out, so the safe minimum applies.
	if got.ColWidth != DefaultCols || got.RowHeight != DefaultRows {
		t.Errorf("expected %dx%d, got %dx%d", DefaultCols, DefaultRows, got.ColWidth, got.RowHeight)
	}
}

func TestEngine_ConnectUsesSurfaceDimensions(t *testing.T) {
	h := newHarness(t, validDesc())
	h.surface.SetSize(120, 40)

	if err := h.engine.Connect(nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.link.serverOpen()

	frames := h.link.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !strings.Contains(frames[0], `"col_width":120`) || !strings.Contains(frames[0], `"row_height":40`) {
		t.Errorf("expected surface dimensions in handshake, got %s", frames[0])
	}
}

func TestEngine_ConnectWhileConnectingIsNoop(t *testing.T) {
	h := newHarness(t, validDesc())

	if err := h.engine.Connect(nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := h.engine.Connect(nil); err != nil {
		t.Errorf("second Connect must be a no-op, got %v", err)
	}
	h.link.serverOpen()
	if frames := h.link.sentFrames(); len(frames) != 1 {
		t.Errorf("expected a single connect envelope, got %d", len(frames))
	}
}

func TestEngine_ConnectOverrideMergesDescriptor(t *testing.T) {
	h := newHarness(t, validDesc())

	if err := h.engine.Connect(&protocol.Credentials{Hostname: "h2", Port: 2222}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	desc := h.engine.Descriptor()
	if desc.Hostname != "h2" || desc.Port != 2222 {
		t.Errorf("override fields not merged: %+v", desc)
	}
	if desc.Username != "alice" || desc.Password != "pw" {
		t.Errorf("unset override fields must keep stored values: %+v", desc)
	}
}

func TestEngine_ConnectedTransitionsToOpen(t *testing.T) {
	h := newHarness(t, validDesc())
	h.connectOpen(t)

	st := h.rec.lastStatus(t)
	if !st.Connected {
		t.Error("expected connected status")
	}
	if st.Host != "h1" || st.Port != 22 || st.Username != "alice" {
		t.Errorf("status must echo the connection identity: %+v", st)
	}
	if h.engine.Connecting() {
		t.Error("connecting indicator should be cleared")
	}
}

func TestEngine_InputDroppedUnlessOpen(t *testing.T) {
	h := newHarness(t, validDesc())

	// Idle: dropped.
	h.engine.SendInput("early")
	if err := h.engine.Connect(nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Connecting: still dropped, never queued.
	h.engine.SendInput("still early")
	h.link.serverOpen()
	h.link.serverSend(`{"type":"connected"}`)

	h.engine.SendInput("ls\r")

	frames := h.link.sentFrames()
	// connect envelope + one input envelope, nothing replayed
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %v", len(frames), frames)
	}
	if frames[1] != `{"type":"input","data":"ls\r"}` {
		t.Errorf("unexpected input frame: %s", frames[1])
	}
}

func TestEngine_OutputAppendedVerbatim(t *testing.T) {
	h := newHarness(t, validDesc())
	h.connectOpen(t)

	h.link.serverSend(`{"type":"output","data":"foo\r\nbar"}`)
	if got := string(h.surface.Snapshot()); got != "foo\r\nbar" {
		t.Errorf("unexpected surface content %q", got)
	}
}

func TestEngine_MalformedFrameRendersAsRawText(t *testing.T) {
	h := newHarness(t, validDesc())
	h.connectOpen(t)

	h.link.serverSend("not json at all")

	if got := string(h.surface.Snapshot()); got != "not json at all" {
		t.Errorf("raw frame must be appended verbatim, got %q", got)
	}
	if h.engine.State() != StateOpen {
		t.Errorf("raw frame must not disturb the session, got %s", h.engine.State())
	}
}

func TestEngine_ErrorEnvelopeKeepsState(t *testing.T) {
	h := newHarness(t, validDesc())
	if err := h.engine.Connect(nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.link.serverOpen()

	h.link.serverSend(`{"type":"error","message":"authentication failed"}`)

	if h.engine.State() != StateConnecting {
		t.Errorf("error envelope must not change state, got %s", h.engine.State())
	}
	if h.engine.Connecting() {
		t.Error("error envelope must clear the connecting indicator")
	}
	h.rec.mu.Lock()
	errs := append([]string(nil), h.rec.errors...)
	h.rec.mu.Unlock()
	if len(errs) != 1 || errs[0] != "authentication failed" {
		t.Errorf("unexpected user errors: %v", errs)
	}
	if !strings.Contains(string(h.surface.Snapshot()), "authentication failed") {
		t.Error("error message must also land in the terminal text")
	}
}

func TestEngine_DisconnectedEnvelopeIsInformationalOnly(t *testing.T) {
	h := newHarness(t, validDesc())
	h.connectOpen(t)

	h.link.serverSend(`{"type":"disconnected"}`)

	// Only the transport close event drives the state transition.
	if h.engine.State() != StateOpen {
		t.Errorf("disconnected envelope must not change state, got %s", h.engine.State())
	}
}

func TestEngine_UnknownKindIgnored(t *testing.T) {
	h := newHarness(t, validDesc())
	h.connectOpen(t)

	h.link.serverSend(`{"type":"telemetry","uptime":12}`)

	if h.engine.State() != StateOpen {
		t.Errorf("unknown kind must be ignored, got state %s", h.engine.State())
	}
	if h.surface.Len() != 0 {
		t.Errorf("unknown kind must not render, surface has %q", h.surface.Snapshot())
	}
}

func TestEngine_TransportCloseReturnsToIdle(t *testing.T) {
	h := newHarness(t, validDesc())
	h.connectOpen(t)

	h.link.serverClose()

	if h.engine.State() != StateIdle {
		t.Fatalf("expected idle after transport close, got %s", h.engine.State())
	}
	st := h.rec.lastStatus(t)
	if st.Connected {
		t.Error("expected disconnected status after close")
	}
}

func TestEngine_DialFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, validDesc())
	if err := h.engine.Connect(nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// A failed dial produces an error event and no close event.
	h.link.cb.OnError(context.DeadlineExceeded)

	if h.engine.State() != StateIdle {
		t.Fatalf("expected idle after dial failure, got %s", h.engine.State())
	}
	if !strings.Contains(string(h.surface.Snapshot()), "connection error") {
		t.Error("dial failure must be surfaced as terminal text")
	}
}

func TestEngine_DisconnectIdempotent(t *testing.T) {
	h := newHarness(t, validDesc())

	// Disconnecting an idle engine must not error or touch a transport.
	h.engine.Disconnect()
	h.engine.Disconnect()
	if h.link.closes != 0 {
		t.Errorf("idle disconnect must not close any transport, got %d closes", h.link.closes)
	}
	st := h.rec.lastStatus(t)
	if st.Connected {
		t.Error("disconnect must report a disconnected status")
	}

	h.connectOpen(t)
	h.engine.Disconnect()
	if h.engine.State() != StateIdle {
		t.Errorf("expected idle after disconnect, got %s", h.engine.State())
	}
	if h.link.closes != 1 {
		t.Errorf("expected one transport close, got %d", h.link.closes)
	}
	h.engine.Disconnect()
	if h.link.closes != 1 {
		t.Errorf("repeated disconnect must not close again, got %d", h.link.closes)
	}
}

func TestEngine_ResizeOnlyWhileOpen(t *testing.T) {
	h := newHarness(t, validDesc())
	if err := h.engine.Connect(nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.link.serverOpen()

	// Not yet confirmed by the bridge: nothing may be sent.
	h.engine.Resize(100, 30)
	time.Sleep(50 * time.Millisecond)
	if frames := h.link.sentFrames(); len(frames) != 1 {
		t.Fatalf("resize before connected must be suppressed, got %v", frames)
	}

	h.link.serverSend(`{"type":"connected"}`)
	h.engine.Resize(100, 30)
	time.Sleep(50 * time.Millisecond)

	frames := h.link.sentFrames()
	if len(frames) != 2 || frames[1] != `{"type":"resize","width":100,"height":30}` {
		t.Errorf("unexpected frames: %v", frames)
	}
}

func TestEngine_ResizeDebounced(t *testing.T) {
	h := newHarness(t, validDesc())
	h.connectOpen(t)

	h.engine.Resize(90, 25)
	h.engine.Resize(100, 30)
	h.engine.Resize(110, 35)
	time.Sleep(50 * time.Millisecond)

	frames := h.link.sentFrames()
	if len(frames) != 2 {
		t.Fatalf("expected the burst to collapse to one resize, got %v", frames)
	}
	if frames[1] != `{"type":"resize","width":110,"height":35}` {
		t.Errorf("expected the final dimensions, got %s", frames[1])
	}
}

func TestEngine_ResizeRejectsNonPositiveDimensions(t *testing.T) {
	h := newHarness(t, validDesc())
	h.connectOpen(t)

	h.engine.Resize(0, 30)
	h.engine.Resize(100, -1)
	time.Sleep(50 * time.Millisecond)

	if frames := h.link.sentFrames(); len(frames) != 1 {
		t.Errorf("non-positive dimensions must not be sent: %v", frames)
	}
}

func TestEngine_CwdTrackedOnCarriageReturn(t *testing.T) {
	h := newHarness(t, validDesc())
	h.connectOpen(t)

	// The PTY echo of the typed command is already on the cursor row.
	h.link.serverSend(`{"type":"output","data":"alice@h1:~$ ls && cd /var/log"}`)
	h.engine.SendInput("\r")

	h.rec.mu.Lock()
	cwds := append([]string(nil), h.rec.cwds...)
	h.rec.mu.Unlock()
	if len(cwds) != 1 || cwds[0] != "/var/log" {
		t.Errorf("expected cwd change to /var/log, got %v", cwds)
	}
}

func TestEngine_NoCwdEventWithoutCdCommand(t *testing.T) {
	h := newHarness(t, validDesc())
	h.connectOpen(t)

	h.link.serverSend(`{"type":"output","data":"alice@h1:~$ echo hello"}`)
	h.engine.SendInput("\r")
	// Non-CR input never triggers the heuristic.
	h.link.serverSend(`{"type":"output","data":"alice@h1:~$ cd /tmp"}`)
	h.engine.SendInput("x")

	h.rec.mu.Lock()
	cwds := append([]string(nil), h.rec.cwds...)
	h.rec.mu.Unlock()
	if len(cwds) != 0 {
		t.Errorf("expected no cwd events, got %v", cwds)
	}
}

func TestEngine_ApplySettings(t *testing.T) {
	h := newHarness(t, validDesc())

	bg := "#112233"
	h.engine.ApplySettings(SettingsPatch{Background: &bg})
	time.Sleep(30 * time.Millisecond)
	if h.surface.RefitCount() != 0 {
		t.Error("color-only patch must not trigger a refit")
	}
	if h.engine.Settings().Background != "#112233" {
		t.Errorf("background not applied: %+v", h.engine.Settings())
	}

	size := 18
	h.engine.ApplySettings(SettingsPatch{FontSize: &size})
	time.Sleep(30 * time.Millisecond)
	if h.surface.RefitCount() != 1 {
		t.Errorf("font change must trigger exactly one refit, got %d", h.surface.RefitCount())
	}
	if h.engine.Settings().FontSize != 18 {
		t.Errorf("font size not applied: %+v", h.engine.Settings())
	}
}

func TestEngine_SettingsAcceptedWhileIdle(t *testing.T) {
	h := newHarness(t, validDesc())
	fg := "#fafafa"
	h.engine.ApplySettings(SettingsPatch{Foreground: &fg})
	if h.engine.Settings().Foreground != "#fafafa" {
		t.Error("settings must be accepted in any state")
	}
}

func TestEngine_DestroyReleasesSurface(t *testing.T) {
	h := newHarness(t, validDesc())
	h.connectOpen(t)

	h.engine.Destroy()

	if h.engine.State() != StateIdle {
		t.Errorf("expected idle after destroy, got %s", h.engine.State())
	}
	if !h.surface.IsClosed() {
		t.Error("destroy must release the render surface")
	}
	if h.link.closes != 1 {
		t.Errorf("destroy must close the transport once, got %d", h.link.closes)
	}
}
