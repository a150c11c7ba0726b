package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/model"
)

type positionKey struct {
	userID    string
	startupID string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions keep an undo log and replay it backwards on failure; the
// Lock methods take per-key mutexes held until the transaction ends.
type MemoryStore struct {
	mu          sync.RWMutex
	startups    map[string]*model.Startup
	users       map[string]*model.User
	positions   map[positionKey]*model.Position
	comparisons []model.Comparison
	trades      []model.Trade

	locks *keyLocker

	faultMu sync.Mutex
	faults  map[string]*injectedFault
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		startups:  make(map[string]*model.Startup),
		users:     make(map[string]*model.User),
		positions: make(map[positionKey]*model.Position),
		locks:     newKeyLocker(),
		faults:    make(map[string]*injectedFault),
	}
}

var _ Store = (*MemoryStore)(nil)

// FailNext makes the next call to the named write method (for example
// "UpdateWallet") return err wrapped in ErrUnavailable. Tests use it to
// simulate a collaborator failing halfway through a multi-write operation.
func (s *MemoryStore) FailNext(op string, err error) {
	s.FailOnCall(op, 1, err)
}

// FailOnCall is FailNext for the nth upcoming call (1-based) to op.
func (s *MemoryStore) FailOnCall(op string, n int, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = &injectedFault{countdown: n, err: err}
}

type injectedFault struct {
	countdown int
	err       error
}

func (s *MemoryStore) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	f.countdown--
	if f.countdown > 0 {
		return nil
	}
	delete(s.faults, op)
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, f.err)
}

// --- Startups ---

func (s *MemoryStore) CreateStartup(_ context.Context, st *model.Startup) error {
	if err := s.fault("CreateStartup"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.startups[st.ID]; ok {
		return fmt.Errorf("startup %s: %w", st.ID, ErrDuplicateKey)
	}
	s.startups[st.ID] = cloneStartup(st)
	return nil
}

func (s *MemoryStore) GetStartup(_ context.Context, id string) (*model.Startup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.startups[id]
	if !ok {
		return nil, fmt.Errorf("startup %s: %w", id, ErrNotFound)
	}
	return cloneStartup(st), nil
}

func (s *MemoryStore) ListStartups(_ context.Context, f StartupFilter) ([]model.Startup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Startup, 0, len(s.startups))
	for _, st := range s.startups {
		if f.Batch != "" && st.Batch != f.Batch {
			continue
		}
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, st.ID) {
			continue
		}
		out = append(out, *cloneStartup(st))
	}
	slices.SortFunc(out, func(a, b model.Startup) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *MemoryStore) UpdateStartupRating(_ context.Context, id string, rating float64) error {
	if err := s.fault("UpdateStartupRating"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.startups[id]
	if !ok {
		return fmt.Errorf("startup %s: %w", id, ErrNotFound)
	}
	st.Rating = rating
	return nil
}

func (s *MemoryStore) UpdateStartupRank(_ context.Context, id string, rank int) error {
	if err := s.fault("UpdateStartupRank"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.startups[id]
	if !ok {
		return fmt.Errorf("startup %s: %w", id, ErrNotFound)
	}
	r := rank
	st.Rank = &r
	return nil
}

// --- Comparisons ---

func (s *MemoryStore) AppendComparison(_ context.Context, c *model.Comparison) error {
	if err := s.fault("AppendComparison"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.comparisons {
		if existing.ID == c.ID {
			return fmt.Errorf("comparison %s: %w", c.ID, ErrDuplicateKey)
		}
	}
	s.comparisons = append(s.comparisons, *c)
	return nil
}

func (s *MemoryStore) ListComparisons(_ context.Context, f ComparisonFilter) ([]model.Comparison, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Comparison
	for _, c := range s.comparisons {
		if f.UserID != "" && c.UserID != f.UserID {
			continue
		}
		if len(f.StartupIDs) > 0 &&
			!slices.Contains(f.StartupIDs, c.StartupAID) &&
			!slices.Contains(f.StartupIDs, c.StartupBID) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	if err := s.fault("CreateUser"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, ErrDuplicateKey)
	}
	copy := *u
	s.users[u.ID] = &copy
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) UpdateWallet(_ context.Context, userID string, balance decimal.Decimal) error {
	if err := s.fault("UpdateWallet"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.Balance = balance
	return nil
}

func (s *MemoryStore) UpdateFreeGifts(_ context.Context, userID string, remaining int) error {
	if err := s.fault("UpdateFreeGifts"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.FreeGifts = remaining
	return nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, userID, startupID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey{userID, startupID}]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", userID, startupID, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	if err := s.fault("UpsertPosition"); err != nil {
		return err
	}
	if p.Shares <= 0 || p.Side == model.SideNone {
		return fmt.Errorf("position %s/%s: refusing to store empty position", p.UserID, p.StartupID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.positions[positionKey{p.UserID, p.StartupID}] = &copy
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, userID, startupID string) error {
	if err := s.fault("DeletePosition"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.positions, positionKey{userID, startupID})
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for k, p := range s.positions {
		if k.userID == userID {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b model.Position) int {
		if a.StartupID < b.StartupID {
			return -1
		}
		if a.StartupID > b.StartupID {
			return 1
		}
		return 0
	})
	return out, nil
}

// --- Trades ---

func (s *MemoryStore) AppendTrade(_ context.Context, t *model.Trade) error {
	if err := s.fault("AppendTrade"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.trades {
		if existing.ID == t.ID {
			return fmt.Errorf("trade %s: %w", t.ID, ErrDuplicateKey)
		}
	}
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// --- Transactions ---

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	tx := &memoryTx{MemoryStore: s, held: make(map[string]bool)}
	defer tx.releaseLocks()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// LockUser is a no-op outside a transaction.
func (s *MemoryStore) LockUser(context.Context, string) error { return nil }

// LockStartups is a no-op outside a transaction.
func (s *MemoryStore) LockStartups(context.Context, ...string) error { return nil }

// --- undo helpers (used by memoryTx) ---

func (s *MemoryStore) restoreStartup(st *model.Startup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startups[st.ID] = st
}

func (s *MemoryStore) removeStartup(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.startups, id)
}

func (s *MemoryStore) restoreUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *MemoryStore) removeUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

func (s *MemoryStore) restorePosition(k positionKey, p *model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		delete(s.positions, k)
		return
	}
	s.positions[k] = p
}

func (s *MemoryStore) removeComparison(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comparisons = slices.DeleteFunc(s.comparisons, func(c model.Comparison) bool { return c.ID == id })
}

func (s *MemoryStore) removeTrade(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = slices.DeleteFunc(s.trades, func(t model.Trade) bool { return t.ID == id })
}

func cloneStartup(st *model.Startup) *model.Startup {
	copy := *st
	if st.Rank != nil {
		r := *st.Rank
		copy.Rank = &r
	}
	return &copy
}
