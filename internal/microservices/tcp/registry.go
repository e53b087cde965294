package tcp

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"commlink/internal/metrics"
	"commlink/internal/protocol"
)

// storeTimeout bounds each call into the SessionStore so a slow directory
// never stalls accept or teardown for long.
const storeTimeout = 3 * time.Second

// SessionStore mirrors the live session table somewhere outside the process
// (Redis in production). It is informational only: the registry stays the
// source of truth and store failures never fail a registry operation.
type SessionStore interface {
	Register(ctx context.Context, info SessionInfo) error
	Unregister(ctx context.Context, id int64) error
	// Refresh keeps the entries for the given live ids from expiring.
	Refresh(ctx context.Context, ids []int64) error
}

// ClientSession is one remote peer's registration.
type ClientSession struct {
	ID          int64
	Conn        *Connection // owned by this session's loop, never shared between entries
	Address     string      // remote host:port captured at accept time
	ConnectedAt time.Time
}

// SessionInfo is a read-only snapshot of a ClientSession.
type SessionInfo struct {
	ID          int64     `json:"id"`
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connected_at"`
}

func (s *ClientSession) Info() SessionInfo {
	return SessionInfo{ID: s.ID, Address: s.Address, ConnectedAt: s.ConnectedAt}
}

// SessionRegistry is the coordinator's table of active sessions keyed by a
// monotonically increasing client id. All access goes through mu.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[int64]*ClientSession
	nextID   int64

	logger  *slog.Logger
	store   SessionStore // may be nil
	metrics *metrics.Metrics
}

// constructor for SessionRegistry
func NewSessionRegistry(logger *slog.Logger, store SessionStore, m *metrics.Metrics) *SessionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRegistry{
		sessions: make(map[int64]*ClientSession),
		logger:   logger,
		store:    store,
		metrics:  m,
	}
}

// Add registers conn and returns its id. Ids start at 1 and are never reused.
func (r *SessionRegistry) Add(conn *Connection, address string) int64 {
	r.mu.Lock()
	r.nextID++
	session := &ClientSession{
		ID:          r.nextID,
		Conn:        conn,
		Address:     address,
		ConnectedAt: time.Now(),
	}
	r.sessions[session.ID] = session
	r.mu.Unlock()

	r.metrics.SessionOpened()
	r.logger.Info("client_added",
		"client_id", session.ID,
		"remote_addr", address,
	)

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.Register(ctx, session.Info()); err != nil {
			r.logger.Warn("session_store_register_failed",
				"client_id", session.ID,
				"error", err.Error(),
			)
		}
	}
	return session.ID
}

// Remove drops id from the table. It reports whether an entry was removed;
// removing an id that is already gone is not an error, which lets an exit
// handler and a disconnect racing on the same session both call it.
func (r *SessionRegistry) Remove(id int64) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.metrics.SessionClosed()
	r.logger.Info("client_removed",
		"client_id", id,
	)

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.Unregister(ctx, id); err != nil {
			r.logger.Warn("session_store_unregister_failed",
				"client_id", id,
				"error", err.Error(),
			)
		}
	}
	return true
}

// RefreshStore tells the store which sessions are still alive. A no-op
// without a store or without sessions.
func (r *SessionRegistry) RefreshStore() {
	if r.store == nil {
		return
	}
	r.mu.RLock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	if len(ids) == 0 {
		return
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.Refresh(ctx, ids); err != nil {
		r.logger.Warn("session_store_refresh_failed",
			"sessions", len(ids),
			"error", err.Error(),
		)
	}
}

// Get resolves id to its connection.
func (r *SessionRegistry) Get(id int64) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.Conn, nil
}

// Session returns a snapshot of one session.
func (r *SessionRegistry) Session(id int64) (SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	return session.Info(), true
}

// List returns snapshots of every registered session ordered by id.
func (r *SessionRegistry) List() []SessionInfo {
	r.mu.RLock()
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, session := range r.sessions {
		infos = append(infos, session.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Broadcast sends m to every registered connection. Delivery is best effort:
// a failing peer is logged and reported in the returned map, and the others
// still get the message. The table is snapshotted first so that a slow peer
// never holds the registry lock.
func (r *SessionRegistry) Broadcast(m protocol.Message) map[int64]error {
	r.mu.RLock()
	targets := make([]*ClientSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		targets = append(targets, session)
	}
	r.mu.RUnlock()

	var (
		wg       sync.WaitGroup
		failedMu sync.Mutex
		failed   = make(map[int64]error)
	)
	for _, session := range targets {
		wg.Add(1)
		go func(s *ClientSession) {
			defer wg.Done()
			if err := s.Conn.Send(m); err != nil {
				r.logger.Warn("failed_to_send_broadcast",
					"client_id", s.ID,
					"message_type", string(m.Type),
					"error", err.Error(),
				)
				failedMu.Lock()
				failed[s.ID] = err
				failedMu.Unlock()
				return
			}
			r.metrics.FrameSent(string(m.Type))
		}(session)
	}
	wg.Wait()

	return failed
}

// CloseAll closes every registered connection. Entries are removed by their
// own session loops as they observe the close.
func (r *SessionRegistry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, session := range r.sessions {
		session.Conn.Close()
		r.logger.Info("client_connection_closed",
			"client_id", id,
		)
	}
}
