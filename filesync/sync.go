package filesync

import "sync"

// Lister is the slice of the file API a Sync needs. *Client satisfies it.
type Lister interface {
	List(sessionID int, path string) ([]FileEntry, error)
}

// Callbacks receive the outcome of navigation. Nil callbacks are skipped.
type Callbacks struct {
	// OnListing delivers a fresh directory listing after the current
	// directory changed.
	OnListing func(dir string, entries []FileEntry)
	// OnError reports a failed listing. The current directory is left as
	// it was.
	OnError func(err error)
}

// Sync mirrors one terminal session's working directory into a file
// browser. Directory changes observed in the terminal are fed through
// NavigateTo; the Sync resolves the target against its current directory,
// lists it, and only commits the move when the listing succeeds.
type Sync struct {
	lister    Lister
	sessionID int
	cb        Callbacks

	mu  sync.Mutex
	dir string
}

// NewSync creates a Sync bound to a remote file session, starting at the
// filesystem root.
func NewSync(lister Lister, sessionID int, cb Callbacks) *Sync {
	return &Sync{
		lister:    lister,
		sessionID: sessionID,
		cb:        cb,
		dir:       "/",
	}
}

// Dir returns the directory the browser currently shows.
func (s *Sync) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// NavigateTo resolves target against the current directory and lists the
// result. On success the current directory advances and the listing is
// delivered; on failure the error is reported and the directory stays put.
func (s *Sync) NavigateTo(target string) {
	s.mu.Lock()
	next := Resolve(s.dir, target)
	s.mu.Unlock()

	entries, err := s.lister.List(s.sessionID, next)
	if err != nil {
		if s.cb.OnError != nil {
			s.cb.OnError(err)
		}
		return
	}

	s.mu.Lock()
	s.dir = next
	s.mu.Unlock()

	if s.cb.OnListing != nil {
		s.cb.OnListing(next, entries)
	}
}

// Refresh re-lists the current directory without moving.
func (s *Sync) Refresh() {
	s.NavigateTo(".")
}
