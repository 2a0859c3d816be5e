// Package realtime tracks live client connections per identity and fans
// payloads out to them.
//
// Lock ordering: Registry.mu is never held while writing to a connection.
// Per-connection writes are serialized by liveConn.writeMu.
package realtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

const defaultWriteTimeout = 5 * time.Second

var (
	// ErrAlreadyRegistered is returned when a connection is registered twice.
	ErrAlreadyRegistered = errors.New("realtime: connection already registered")
	// ErrRegistryClosed is returned by Register after Close.
	ErrRegistryClosed = errors.New("realtime: registry closed")
	// ErrEmptyIdentity is returned when registering without an identity.
	ErrEmptyIdentity = errors.New("realtime: identity required")

	errWriteTimeout = errors.New("write timed out")
)

// Conn is one live transport connection. Implementations must be comparable
// (pointer receivers); Close must unblock a pending WriteMessage.
type Conn interface {
	WriteMessage(payload []byte) error
	Close() error
}

// Handle identifies a registration.
type Handle struct {
	identity string
	id       uint64
}

// Identity returns the identity the connection was registered under.
func (h Handle) Identity() string {
	return h.identity
}

type liveConn struct {
	handle  Handle
	conn    Conn
	writeMu sync.Mutex
}

// Registry maps identities to their live connections.
type Registry struct {
	name         string
	writeTimeout time.Duration
	logger       *zap.Logger

	mu     sync.RWMutex
	byID   map[string]map[uint64]*liveConn
	byConn map[Conn]*liveConn
	nextID uint64
	closed bool
}

// Options configures a Registry.
type Options struct {
	// Name labels log lines, e.g. "chat" or "notifications".
	Name         string
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		name:         opts.Name,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger.With(zap.String("registry", opts.Name)),
		byID:         make(map[string]map[uint64]*liveConn),
		byConn:       make(map[Conn]*liveConn),
	}
}

// Register records conn as live for identity.
func (r *Registry) Register(identity string, conn Conn) (Handle, error) {
	if identity == "" {
		return Handle{}, ErrEmptyIdentity
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Handle{}, ErrRegistryClosed
	}
	if _, exists := r.byConn[conn]; exists {
		return Handle{}, ErrAlreadyRegistered
	}
	r.nextID++
	lc := &liveConn{handle: Handle{identity: identity, id: r.nextID}, conn: conn}
	set, ok := r.byID[identity]
	if !ok {
		set = make(map[uint64]*liveConn)
		r.byID[identity] = set
	}
	set[lc.handle.id] = lc
	r.byConn[conn] = lc

	r.logger.Debug("connection registered",
		zap.String("identity", identity),
		zap.Int("identity_connections", len(set)))
	return lc.handle, nil
}

// Unregister drops the connection. The caller keeps ownership of closing it.
// Unknown handles are ignored.
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lc := r.lookupLocked(h); lc != nil {
		r.removeLocked(lc)
	}
}

// Send delivers payload to every live connection of identity and returns
// how many writes succeeded.
func (r *Registry) Send(identity string, payload []byte) int {
	return r.SendMany([]string{identity}, payload)
}

// SendMany delivers payload to every live connection of each identity.
// All writes run concurrently and each is bounded by the write timeout, so
// one stuck peer cannot hold back the others. Failed connections are evicted
// and closed before SendMany returns.
func (r *Registry) SendMany(identities []string, payload []byte) int {
	targets := r.snapshot(identities)
	if len(targets) == 0 {
		return 0
	}

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, lc := range targets {
		wg.Add(1)
		go func(lc *liveConn) {
			defer wg.Done()
			if err := r.write(lc, payload); err != nil {
				r.logger.Warn("evicting connection after failed write",
					zap.String("identity", lc.handle.identity),
					zap.Error(apperrors.NewConnectionClosed(err)))
				r.evict(lc)
				return
			}
			delivered.Add(1)
		}(lc)
	}
	wg.Wait()
	return int(delivered.Load())
}

// Connections returns the number of live connections for identity.
func (r *Registry) Connections(identity string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID[identity])
}

// Close evicts and closes every connection. Later registrations fail.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	all := make([]*liveConn, 0, len(r.byConn))
	for _, lc := range r.byConn {
		all = append(all, lc)
	}
	r.byID = make(map[string]map[uint64]*liveConn)
	r.byConn = make(map[Conn]*liveConn)
	r.mu.Unlock()

	for _, lc := range all {
		_ = lc.conn.Close()
	}
	r.logger.Info("registry closed", zap.Int("connections", len(all)))
}

func (r *Registry) snapshot(identities []string) []*liveConn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(identities))
	var targets []*liveConn
	for _, identity := range identities {
		if _, dup := seen[identity]; dup {
			continue
		}
		seen[identity] = struct{}{}
		for _, lc := range r.byID[identity] {
			targets = append(targets, lc)
		}
	}
	return targets
}

func (r *Registry) write(lc *liveConn, payload []byte) error {
	done := make(chan error, 1)
	go func() {
		lc.writeMu.Lock()
		defer lc.writeMu.Unlock()
		done <- lc.conn.WriteMessage(payload)
	}()

	timer := time.NewTimer(r.writeTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errWriteTimeout
	}
}

func (r *Registry) evict(lc *liveConn) {
	r.mu.Lock()
	current := r.lookupLocked(lc.handle)
	if current == lc {
		r.removeLocked(lc)
	}
	r.mu.Unlock()

	if current == lc {
		_ = lc.conn.Close()
	}
}

func (r *Registry) lookupLocked(h Handle) *liveConn {
	set, ok := r.byID[h.identity]
	if !ok {
		return nil
	}
	return set[h.id]
}

func (r *Registry) removeLocked(lc *liveConn) {
	set := r.byID[lc.handle.identity]
	delete(set, lc.handle.id)
	if len(set) == 0 {
		delete(r.byID, lc.handle.identity)
	}
	delete(r.byConn, lc.conn)
}
