// Package registry owns the set of open terminal sessions, the single
// active-session pointer, and the process-wide visual settings.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/termbridge/termbridge/config"
	"github.com/termbridge/termbridge/filesync"
	"github.com/termbridge/termbridge/logging"
	"github.com/termbridge/termbridge/protocol"
	"github.com/termbridge/termbridge/terminal"
	"github.com/termbridge/termbridge/transport"
)

var logf = logging.Component("registry")

// Session is one open terminal tab. The registry is its sole owner; the
// paired engine and file browser sync reference it but never outlive it.
type Session struct {
	ID         string               `json:"id"`
	Descriptor protocol.Credentials `json:"descriptor"`
	Status     terminal.Status      `json:"status"`
	CreatedAt  time.Time            `json:"created_at"`
}

// StatusPatch is a partial status update. Nil fields are left unchanged.
type StatusPatch struct {
	Connected *bool
	Host      *string
	Port      *int
	Username  *string
}

// EngineFactory builds the engine for a session. Injectable so tests can
// substitute engines with in-memory links.
type EngineFactory func(s *Session, events terminal.Events) *terminal.Engine

// SyncFactory builds the file browser sync paired with a session. May
// return nil when file browsing is unavailable for the target.
type SyncFactory func(s *Session) *filesync.Sync

// Options configure a Registry.
type Options struct {
	// NewEngine defaults to a factory reading endpoint and dimensions
	// from the process config.
	NewEngine EngineFactory
	// NewSync defaults to nil (no file browser pairing).
	NewSync SyncFactory
	// Settings seed the process-wide visual settings.
	Settings terminal.Settings
	// StallLimit bounds how long a session may sit in Connecting before
	// the janitor disconnects it. Defaults to config.Cfg.ConnectStallLimit;
	// a zero limit disables the sweep.
	StallLimit time.Duration
}

// Registry is the only component with global state: sessions, the active
// pointer, and the shared settings all live here.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
	active   string
	engines  map[string]*terminal.Engine
	syncs    map[string]*filesync.Sync
	settings terminal.Settings

	newEngine  EngineFactory
	newSync    SyncFactory
	stallLimit time.Duration

	janitor *janitor
}

func New(opts Options) *Registry {
	if opts.NewEngine == nil {
		opts.NewEngine = defaultEngineFactory
	}
	if opts.StallLimit <= 0 {
		opts.StallLimit = config.Cfg.ConnectStallLimit
	}
	return &Registry{
		sessions:   make(map[string]*Session),
		engines:    make(map[string]*terminal.Engine),
		syncs:      make(map[string]*filesync.Sync),
		settings:   opts.Settings,
		newEngine:  opts.NewEngine,
		newSync:    opts.NewSync,
		stallLimit: opts.StallLimit,
	}
}

// defaultEngineFactory wires an engine to the bridge endpoint from the
// process config over a real websocket link.
func defaultEngineFactory(s *Session, events terminal.Events) *terminal.Engine {
	endpoint, err := transport.BuildEndpoint(config.Cfg.BridgeBaseURL, "", config.Cfg.BridgePath)
	if err != nil {
		logf.Printf("session %s: bad bridge endpoint: %v", s.ID, err)
	}
	surface := terminal.NewScreenBuffer(config.Cfg.ScrollbackSize)
	surface.SetSize(config.Cfg.DefaultCols, config.Cfg.DefaultRows)
	return terminal.NewEngine(terminal.Options{
		Endpoint:       endpoint,
		Descriptor:     s.Descriptor,
		Surface:        surface,
		Events:         events,
		ResizeDebounce: config.Cfg.ResizeDebounce,
		Settings: terminal.Settings{
			FontSize:   config.Cfg.TerminalFontSize,
			Background: config.Cfg.TerminalBackground,
			Foreground: config.Cfg.TerminalForeground,
		},
	})
}

// CreateSession allocates a session for the descriptor, makes it active,
// and returns its id. The transport is not opened here; that happens
// lazily when the paired engine first connects.
func (r *Registry) CreateSession(desc protocol.Credentials) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	r.sessions[id] = &Session{
		ID:         id,
		Descriptor: desc,
		Status:     terminal.Status{Connected: false},
		CreatedAt:  time.Now(),
	}
	r.order = append(r.order, id)
	r.active = id
	return id
}

// CloseSession disconnects the paired engine, drops the file browser sync,
// and removes the session. If it was active, the session immediately
// preceding it in insertion order becomes active, else the new first, else
// none.
func (r *Registry) CloseSession(id string) {
	r.mu.Lock()
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		return
	}

	eng := r.engines[id]
	delete(r.engines, id)
	delete(r.syncs, id)
	delete(r.sessions, id)

	idx := -1
	for i, sid := range r.order {
		if sid == id {
			idx = i
			break
		}
	}
	r.order = append(r.order[:idx], r.order[idx+1:]...)

	if r.active == id {
		switch {
		case idx > 0:
			r.active = r.order[idx-1]
		case len(r.order) > 0:
			r.active = r.order[0]
		default:
			r.active = ""
		}
	}
	r.mu.Unlock()

	// Engine teardown happens outside the lock: Destroy emits a status
	// event that re-enters UpdateStatus, which must find the session gone
	// and no-op rather than deadlock.
	if eng != nil {
		eng.Destroy()
	}
}

// SetActive switches the visibly rendered session. It does not disconnect
// the previous one; background sessions stay connected.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("no such session: %s", id)
	}
	r.active = id
	return nil
}

// Active returns the active session id, or "" when no sessions exist.
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Session returns a copy of the named session's record.
func (r *Registry) Session(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sessions returns copies of all sessions in insertion order.
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.sessions[id])
	}
	return out
}

// UpdateStatus merges a status patch into the named session. A no-op when
// the session no longer exists, so late events from a closed session's
// engine are harmless.
func (r *Registry) UpdateStatus(id string, patch StatusPatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	if patch.Connected != nil {
		s.Status.Connected = *patch.Connected
	}
	if patch.Host != nil {
		s.Status.Host = *patch.Host
	}
	if patch.Port != nil {
		s.Status.Port = *patch.Port
	}
	if patch.Username != nil {
		s.Status.Username = *patch.Username
	}
}

// BroadcastSettings applies the patch to the shared settings and forwards
// it to every live engine, active or not. Engines apply the patch locally
// and never write back.
func (r *Registry) BroadcastSettings(patch terminal.SettingsPatch) {
	r.mu.Lock()
	r.settings.Apply(patch)
	engines := make([]*terminal.Engine, 0, len(r.engines))
	for _, eng := range r.engines {
		engines = append(engines, eng)
	}
	r.mu.Unlock()

	for _, eng := range engines {
		eng.ApplySettings(patch)
	}
}

// Settings returns the current shared settings.
func (r *Registry) Settings() terminal.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Engine returns the session's engine, creating it on first use. The
// engine's status events feed back into the registry and its cwd events
// drive the paired file browser sync.
func (r *Registry) Engine(id string) (*terminal.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("no such session: %s", id)
	}
	if eng, ok := r.engines[id]; ok {
		return eng, nil
	}

	if r.newSync != nil {
		if sync := r.newSync(s); sync != nil {
			r.syncs[id] = sync
		}
	}

	events := terminal.Events{
		StatusChange: func(st terminal.Status) {
			r.UpdateStatus(id, StatusPatch{
				Connected: &st.Connected,
				Host:      &st.Host,
				Port:      &st.Port,
				Username:  &st.Username,
			})
		},
		CwdChange: func(dir string) {
			r.mu.Lock()
			sync := r.syncs[id]
			r.mu.Unlock()
			if sync != nil {
				sync.NavigateTo(dir)
			}
		},
	}

	eng := r.newEngine(s, events)

	// An engine created after a settings broadcast still starts from the
	// current shared settings, not the factory's own defaults.
	st := r.settings
	patch := terminal.SettingsPatch{}
	if st.FontSize != 0 {
		patch.FontSize = &st.FontSize
	}
	if st.Background != "" {
		patch.Background = &st.Background
	}
	if st.Foreground != "" {
		patch.Foreground = &st.Foreground
	}
	eng.ApplySettings(patch)

	r.engines[id] = eng
	return eng, nil
}

// Sync returns the session's file browser sync, if one was created.
func (r *Registry) Sync(id string) *filesync.Sync {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncs[id]
}

// CloseStalled disconnects every engine that has been sitting in
// Connecting for longer than the stall limit, returning how many it hit.
// The session itself stays open so the user can retry.
func (r *Registry) CloseStalled() int {
	r.mu.Lock()
	if r.stallLimit <= 0 {
		r.mu.Unlock()
		return 0
	}
	stalled := make([]*terminal.Engine, 0)
	for id, eng := range r.engines {
		if eng.State() == terminal.StateConnecting && time.Since(eng.StateSince()) > r.stallLimit {
			logf.Printf("session %s: connect stalled, disconnecting", id)
			stalled = append(stalled, eng)
		}
	}
	r.mu.Unlock()

	for _, eng := range stalled {
		eng.Disconnect()
	}
	return len(stalled)
}
