package assetpreview

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a sandbox session.
type SessionState int

const (
	SessionCreated SessionState = iota
	SessionPopulated
	SessionCleaningUp
	SessionClosed
	// SessionFailed means cleanup finished but left residue.
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionPopulated:
		return "populated"
	case SessionCleaningUp:
		return "cleaning-up"
	case SessionClosed:
		return "closed"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// sessionPrefix starts every sandbox namespace.
const sessionPrefix = "apv_"

// QuarantineNamespace receives objects that could not be removed.
const QuarantineNamespace = sessionPrefix + "quarantine"

// Cleanable is implemented by values that own host state and must return
// the host to its prior state when closed.
type Cleanable interface {
	Close(ctx context.Context) CleanupReport
}

// Session is a uniquely named namespace in the host workspace into which one
// job loads asset content. It records everything the load creates so that
// Close can remove it, and restores the user's selection and view state.
type Session struct {
	cfg  *config
	host Host
	id   string

	mu          sync.Mutex
	state       SessionState
	created     []Ref
	createdSet  map[Ref]struct{}
	locked      map[Ref]struct{}
	connections map[string]Connection
	importErr   error

	selection     []Ref
	haveSelection bool
	view          ViewState
	haveView      bool

	described bool
	infos     map[Ref]ObjectInfo
	infoErrs  map[Ref]error

	report *CleanupReport
}

var _ Cleanable = (*Session)(nil)

// OpenSession allocates a fresh namespace and snapshots the user's selection
// and view state.
func OpenSession(host Host, options ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, option := range options {
		option(cfg)
	}
	return openSession(cfg, host)
}

func openSession(cfg *config, host Host) (*Session, error) {
	if host == nil {
		return nil, ErrHostUnavailable
	}

	id, err := newSessionID(cfg, host)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:         cfg,
		host:        host,
		id:          id,
		state:       SessionCreated,
		createdSet:  make(map[Ref]struct{}),
		locked:      make(map[Ref]struct{}),
		connections: make(map[string]Connection),
	}

	if sel, err := host.Selection(); err != nil {
		cfg.logger.Warn().Err(err).Str("session", id).Msg("failed to read selection, it will not be restored")
	} else {
		s.selection = append([]Ref(nil), sel...)
		s.haveSelection = true
	}
	if view, err := host.ViewState(); err != nil {
		cfg.logger.Warn().Err(err).Str("session", id).Msg("failed to read view state, it will not be restored")
	} else {
		s.view = view
		s.haveView = true
	}

	cfg.logger.Debug().Str("session", id).Msg("sandbox session opened")
	return s, nil
}

// newSessionID returns "apv_<unix nanos base36>_<8 hex>", retrying if a
// namespace of that name already holds objects.
func newSessionID(cfg *config, host Host) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		id := sessionPrefix + strconv.FormatInt(cfg.now().UnixNano(), 36) + "_" + suffix
		refs, err := host.RefsUnderNamespace(id)
		if err != nil {
			return "", fmt.Errorf("failed to check namespace %s: %w", id, err)
		}
		if len(refs) == 0 {
			return id, nil
		}
	}
	return "", errors.New("failed to allocate a unique sandbox namespace")
}

// ID returns the session id, which is also its namespace.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ImportErr returns the error of the last Load, if any.
func (s *Session) ImportErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.importErr
}

// Load imports the asset into the session namespace and registers every
// object, lock and connection the import produced. Objects created by a
// failed import are registered too.
func (s *Session) Load(ctx context.Context, id Identity) ([]Ref, error) {
	s.mu.Lock()
	if s.state != SessionCreated && s.state != SessionPopulated {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s is %s", s.id, s.state)
	}
	s.mu.Unlock()

	refs, importErr := s.host.ImportContent(ctx, id, s.id)
	for _, ref := range refs {
		s.register(ref)
	}
	s.sweep()

	s.mu.Lock()
	defer s.mu.Unlock()
	if importErr != nil {
		s.importErr = &ImportFailure{Path: id.Path, Err: importErr}
		return append([]Ref(nil), s.created...), s.importErr
	}
	s.state = SessionPopulated
	return append([]Ref(nil), s.created...), nil
}

// sweep registers objects found under the namespace that the host did not report.
func (s *Session) sweep() {
	refs, err := s.host.RefsUnderNamespace(s.id)
	if err != nil {
		s.cfg.logger.Warn().Err(err).Str("session", s.id).Msg("failed to scan session namespace")
		return
	}
	for _, ref := range refs {
		s.register(ref)
	}
}

// register records ref with its lock flag and connections. A ref whose lock
// flag cannot be read is recorded as locked so that cleanup tries to unlock it.
func (s *Session) register(ref Ref) {
	s.mu.Lock()
	if _, ok := s.createdSet[ref]; ok {
		s.mu.Unlock()
		return
	}
	s.createdSet[ref] = struct{}{}
	s.created = append(s.created, ref)
	s.described = false
	s.mu.Unlock()

	locked, err := s.host.Locked(ref)
	if err != nil {
		s.cfg.logger.Warn().Err(err).Str("session", s.id).Str("ref", string(ref)).Msg("failed to read lock flag, assuming locked")
		locked = true
	}
	conns, err := s.host.Connections(ref)
	if err != nil {
		s.cfg.logger.Warn().Err(err).Str("session", s.id).Str("ref", string(ref)).Msg("failed to list connections")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if locked {
		s.locked[ref] = struct{}{}
	}
	for _, conn := range conns {
		s.connections[conn.ID] = conn
	}
}

// Objects returns the registered objects in registration order.
func (s *Session) Objects() []Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Ref(nil), s.created...)
}

// LockedObjects returns the registered locked objects, sorted.
func (s *Session) LockedObjects() []Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Ref, 0, len(s.locked))
	for ref := range s.locked {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Connections returns the registered external connections, sorted by id.
func (s *Session) Connections() []Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// describe returns the host description of every registered object, in
// registration order, and the refs that could not be described.
func (s *Session) describe() ([]ObjectInfo, map[Ref]error) {
	s.mu.Lock()
	if s.described {
		defer s.mu.Unlock()
		return s.infoSlice(), s.infoErrs
	}
	refs := append([]Ref(nil), s.created...)
	s.mu.Unlock()

	infos := make(map[Ref]ObjectInfo, len(refs))
	errs := make(map[Ref]error)
	for _, ref := range refs {
		info, err := s.host.Describe(ref)
		if err != nil {
			errs[ref] = err
			continue
		}
		info.Ref = ref
		infos[ref] = info
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos, s.infoErrs, s.described = infos, errs, true
	return s.infoSlice(), s.infoErrs
}

// infoSlice must be called with s.mu held.
func (s *Session) infoSlice() []ObjectInfo {
	out := make([]ObjectInfo, 0, len(s.infos))
	for _, ref := range s.created {
		if info, ok := s.infos[ref]; ok {
			out = append(out, info)
		}
	}
	return out
}

// depths returns, for every described object, how many ancestors it has.
// Each parent chain is walked once and the results are shared.
func (s *Session) depths() map[Ref]int {
	infos, _ := s.describe()
	parents := make(map[Ref]Ref, len(infos))
	for _, info := range infos {
		parents[info.Ref] = info.Parent
	}

	out := make(map[Ref]int, len(infos))
	var path []Ref
	for _, info := range infos {
		path = path[:0]
		ref, d := info.Ref, 0
		for {
			if known, ok := out[ref]; ok {
				d = known
				break
			}
			parent, ok := parents[ref]
			if !ok || parent == "" || len(path) > len(parents) {
				// A root, a parent outside the session, or a cycle.
				out[ref] = 0
				break
			}
			path = append(path, ref)
			ref = parent
		}
		for i := len(path) - 1; i >= 0; i-- {
			d++
			out[path[i]] = d
		}
	}
	return out
}

// Close unwinds the session with the CleanupEngine and restores the user's
// selection and view state. It runs even when ctx is cancelled; calling it
// again returns the first report.
func (s *Session) Close(ctx context.Context) CleanupReport {
	s.mu.Lock()
	if s.report != nil {
		defer s.mu.Unlock()
		return *s.report
	}
	s.state = SessionCleaningUp
	s.mu.Unlock()

	// Objects created after Load (by capture, for instance) belong to the session too.
	s.sweep()

	report := newCleanupEngine(s.cfg, s.host).Run(context.WithoutCancel(ctx), s)
	s.restore()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = &report
	if report.Clean() {
		s.state = SessionClosed
	} else {
		s.state = SessionFailed
	}
	s.cfg.logger.Debug().Str("session", s.id).Str("state", s.state.String()).Msg("sandbox session closed")
	return report
}

func (s *Session) restore() {
	if s.haveSelection {
		if err := s.host.SetSelection(s.selection); err != nil {
			s.cfg.logger.Error().Err(err).Str("session", s.id).Msg("failed to restore selection")
		}
	}
	if s.haveView {
		if err := s.host.RestoreViewState(s.view); err != nil {
			s.cfg.logger.Error().Err(err).Str("session", s.id).Msg("failed to restore view state")
		}
	}
}
