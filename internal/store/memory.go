package store

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wallet-ledger/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps the ledger in process memory. Each user has its own lock,
// taken by LockUsers in ascending id order, and all writes of a Tx are applied
// in one step when it commits. With a WAL attached every commit is logged and
// fsynced before it becomes visible.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[int64]*models.User
	usernames    map[string]int64
	emails       map[string]int64
	transactions map[int64]*models.Transaction
	byUser       map[int64][]*models.Transaction
	history      map[int64][]*models.BalanceHistory

	locksMu sync.Mutex
	locks   map[int64]chan struct{}

	nextUserID        atomic.Int64
	nextTransactionID atomic.Int64
	nextHistoryID     atomic.Int64

	wal *WAL
}

// walRecord is one committed unit of work.
type walRecord struct {
	Users        []*models.User           `json:"users,omitempty"`
	Transactions []*models.Transaction    `json:"transactions,omitempty"`
	History      []*models.BalanceHistory `json:"history,omitempty"`
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[int64]*models.User),
		usernames:    make(map[string]int64),
		emails:       make(map[string]int64),
		transactions: make(map[int64]*models.Transaction),
		byUser:       make(map[int64][]*models.Transaction),
		history:      make(map[int64][]*models.BalanceHistory),
		locks:        make(map[int64]chan struct{}),
	}
}

// NewDurableMemoryStore rebuilds the store from wal and logs every later
// commit to it.
func NewDurableMemoryStore(wal *WAL) (*MemoryStore, error) {
	s := NewMemoryStore()
	err := wal.Replay(func(raw json.RawMessage) error {
		var rec walRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("failed to decode wal record: %w", err)
		}
		s.apply(&rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to recover from wal: %w", err)
	}
	s.wal = wal
	return s, nil
}

func (s *MemoryStore) Close() error {
	if s.wal != nil {
		return s.wal.Close()
	}
	return nil
}

// apply must be called with s.mu held for writing, or before the store is shared.
func (s *MemoryStore) apply(rec *walRecord) {
	for _, u := range rec.Users {
		if old, ok := s.users[u.ID]; ok {
			delete(s.usernames, strings.ToLower(old.Username))
			delete(s.emails, strings.ToLower(old.Email))
		}
		user := *u
		s.users[u.ID] = &user
		s.usernames[strings.ToLower(u.Username)] = u.ID
		s.emails[strings.ToLower(u.Email)] = u.ID
		bumpTo(&s.nextUserID, u.ID)
	}
	for _, t := range rec.Transactions {
		tr := cloneTransaction(t)
		s.transactions[tr.ID] = tr
		s.byUser[tr.UserID] = append(s.byUser[tr.UserID], tr)
		bumpTo(&s.nextTransactionID, tr.ID)
	}
	for _, h := range rec.History {
		record := cloneHistory(h)
		s.history[record.UserID] = append(s.history[record.UserID], record)
		bumpTo(&s.nextHistoryID, record.ID)
	}
}

func (s *MemoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := tx.record()
	if len(rec.Users) == 0 && len(rec.Transactions) == 0 && len(rec.History) == 0 {
		return nil
	}
	if s.wal != nil {
		if err := s.wal.Write(rec); err != nil {
			return fmt.Errorf("failed to write wal: %w", err)
		}
	}
	s.apply(rec)
	return nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usernames[strings.ToLower(u.Username)]; ok {
		return fmt.Errorf("%w: username %q", ErrDuplicate, u.Username)
	}
	if _, ok := s.emails[strings.ToLower(u.Email)]; ok {
		return fmt.Errorf("%w: email %q", ErrDuplicate, u.Email)
	}

	now := time.Now().UTC()
	user := *u
	user.ID = s.nextUserID.Add(1)
	user.CreatedAt = now
	user.UpdatedAt = now

	rec := &walRecord{Users: []*models.User{&user}}
	if s.wal != nil {
		if err := s.wal.Write(rec); err != nil {
			return fmt.Errorf("failed to write wal: %w", err)
		}
	}
	s.apply(rec)

	*u = user
	return nil
}

func (s *MemoryStore) UpdateUser(ctx context.Context, u *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if id, ok := s.usernames[strings.ToLower(u.Username)]; ok && id != u.ID {
		return fmt.Errorf("%w: username %q", ErrDuplicate, u.Username)
	}

	user := *current
	user.Username = u.Username
	user.PhoneNumber = u.PhoneNumber
	user.UpdatedAt = time.Now().UTC()

	rec := &walRecord{Users: []*models.User{&user}}
	if s.wal != nil {
		if err := s.wal.Write(rec); err != nil {
			return fmt.Errorf("failed to write wal: %w", err)
		}
	}
	s.apply(rec)

	*u = user
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *user
	return &out, nil
}

func (s *MemoryStore) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	users := make([]*models.User, 0, limit)
	for _, id := range page(ids, limit, offset) {
		user := *s.users[id]
		users = append(users, &user)
	}
	return users, len(ids), nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTransaction(t), nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := slices.Clone(s.byUser[userID])
	slices.SortFunc(all, func(a, b *models.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	transactions := make([]*models.Transaction, 0, limit)
	for _, t := range page(all, limit, offset) {
		transactions = append(transactions, cloneTransaction(t))
	}
	return transactions, len(all), nil
}

func (s *MemoryStore) SumTransactions(ctx context.Context, userID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, t := range s.byUser[userID] {
		sum = sum.Add(t.Type.Signed(t.Amount))
	}
	return sum, nil
}

func (s *MemoryStore) ListBalanceHistory(ctx context.Context, userID int64, limit, offset int) ([]*models.BalanceHistory, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := slices.Clone(s.history[userID])
	slices.Reverse(all)

	history := make([]*models.BalanceHistory, 0, limit)
	for _, h := range page(all, limit, offset) {
		history = append(history, cloneHistory(h))
	}
	return history, len(all), nil
}

func (s *MemoryStore) BalanceAt(ctx context.Context, userID int64, at time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.history[userID]
	for i := len(records) - 1; i >= 0; i-- {
		if !records[i].CreatedAt.After(at) {
			return records[i].Balance, nil
		}
	}
	return decimal.Zero, nil
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx := &memoryTx{
		s:     s,
		users: make(map[int64]*models.User),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return s.commit(tx)
}

func (s *MemoryStore) userLock(id int64) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

type memoryTx struct {
	s            *MemoryStore
	held         []int64
	users        map[int64]*models.User
	transactions []*models.Transaction
	history      []*models.BalanceHistory
}

func (t *memoryTx) LockUsers(ctx context.Context, ids ...int64) (map[int64]*models.User, error) {
	ids = sortedUnique(ids)

	t.s.mu.RLock()
	existing := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := t.s.users[id]; ok {
			existing = append(existing, id)
		}
	}
	t.s.mu.RUnlock()

	for _, id := range existing {
		if slices.Contains(t.held, id) {
			continue
		}
		if n := len(t.held); n > 0 && id < t.held[n-1] {
			return nil, fmt.Errorf("lock order violation: user %d requested after %d", id, t.held[n-1])
		}

		select {
		case t.s.userLock(id) <- struct{}{}:
			t.held = append(t.held, id)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for user %d: %w", ErrConflict, id, ctx.Err())
		}
	}

	users := make(map[int64]*models.User, len(existing))
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, id := range existing {
		if pending, ok := t.users[id]; ok {
			out := *pending
			users[id] = &out
			continue
		}
		user := *t.s.users[id]
		t.users[id] = &user
		out := user
		users[id] = &out
	}
	return users, nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	tr.ID = t.s.nextTransactionID.Add(1)
	tr.CreatedAt = time.Now().UTC()
	t.transactions = append(t.transactions, cloneTransaction(tr))
	return nil
}

func (t *memoryTx) SetReference(ctx context.Context, id, referenceID int64) error {
	for _, tr := range t.transactions {
		if tr.ID == id {
			ref := referenceID
			tr.ReferenceTransactionID = &ref
			return nil
		}
	}
	// committed transactions are immutable
	return ErrNotFound
}

func (t *memoryTx) UpdateBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	user, ok := t.users[userID]
	if !ok {
		return fmt.Errorf("user %d is not locked by this transaction", userID)
	}
	user.Balance = balance
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memoryTx) InsertBalanceHistory(ctx context.Context, h *models.BalanceHistory) error {
	h.ID = t.s.nextHistoryID.Add(1)
	h.CreatedAt = time.Now().UTC()
	t.history = append(t.history, cloneHistory(h))
	return nil
}

func (t *memoryTx) SumTransactions(ctx context.Context, userID int64) (decimal.Decimal, error) {
	sum, err := t.s.SumTransactions(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	for _, tr := range t.transactions {
		if tr.UserID == userID {
			sum = sum.Add(tr.Type.Signed(tr.Amount))
		}
	}
	return sum, nil
}

// record must be called with s.mu held. Only balances come from the Tx; the
// rest of each user row is taken from the committed state.
func (t *memoryTx) record() *walRecord {
	rec := &walRecord{
		Transactions: t.transactions,
		History:      t.history,
	}
	for _, id := range t.held {
		pending := t.users[id]
		if pending.UpdatedAt.Equal(t.s.users[id].UpdatedAt) && pending.Balance.Equal(t.s.users[id].Balance) {
			continue
		}
		user := *t.s.users[id]
		user.Balance = pending.Balance
		user.UpdatedAt = pending.UpdatedAt
		rec.Users = append(rec.Users, &user)
	}
	return rec
}

func (t *memoryTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		<-t.s.userLock(t.held[i])
	}
	t.held = nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 || offset >= len(items) || limit <= 0 {
		return nil
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

func bumpTo(counter *atomic.Int64, id int64) {
	for {
		cur := counter.Load()
		if id <= cur || counter.CompareAndSwap(cur, id) {
			return
		}
	}
}

func cloneTransaction(t *models.Transaction) *models.Transaction {
	out := *t
	if t.Description != nil {
		v := *t.Description
		out.Description = &v
	}
	if t.RecipientUserID != nil {
		v := *t.RecipientUserID
		out.RecipientUserID = &v
	}
	if t.ReferenceTransactionID != nil {
		v := *t.ReferenceTransactionID
		out.ReferenceTransactionID = &v
	}
	return &out
}

func cloneHistory(h *models.BalanceHistory) *models.BalanceHistory {
	out := *h
	if h.TransactionID != nil {
		v := *h.TransactionID
		out.TransactionID = &v
	}
	return &out
}
