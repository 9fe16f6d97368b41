package swap

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/bookingswap/swapengine/ledger"
)

/*
Registry tracks swap executions running in this process.

It is only used to detect concurrent executions of the same swap and for
diagnostics, the state of the escrow contract on the ledger is authoritative.
*/
type Registry struct {
	mu     sync.Mutex
	active map[string]*ActiveSwapExecution
	clock  func() time.Time
}

/*
Token identifies the registry entry created by TryBegin. Only the holder of
the token updates and ends the entry, an entry which replaced an evicted one
is not touched by the evicted execution.
*/
type Token struct {
	swapID string
	entry  *ActiveSwapExecution
}

func (t Token) SwapID() string {
	return t.swapID
}

func NewRegistry(clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		active: make(map[string]*ActiveSwapExecution),
		clock:  clock,
	}
}

/*
TryBegin registers execution of the swap, returns false when the swap is
already being executed. The returned token must be passed to End.
*/
func (r *Registry) TryBegin(swapID string) (Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[swapID]; ok {
		return Token{}, false
	}
	now := r.clock()
	e := &ActiveSwapExecution{
		SwapID:    swapID,
		State:     StateInitiated,
		StartedAt: now,
		UpdatedAt: now,
	}
	r.active[swapID] = e
	return Token{swapID: swapID, entry: e}, true
}

// lookup must be called holding r.mu.
func (r *Registry) lookup(t Token) (*ActiveSwapExecution, bool) {
	e, ok := r.active[t.swapID]
	if !ok || t.entry == nil || e != t.entry {
		return nil, false
	}
	return e, true
}

/*
Update records new state of the execution. Empty txID doesn't overwrite the
last transaction ID. Returns false when the entry of the token is not tracked
(anymore).
*/
func (r *Registry) Update(t Token, state State, txID ledger.TxID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.lookup(t)
	if !ok {
		return false
	}
	e.State = state
	e.UpdatedAt = r.clock()
	if txID != "" {
		e.LastTransactionID = txID
	}
	return true
}

func (r *Registry) addLockedAsset(t Token, assetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.lookup(t); ok && !slices.Contains(e.LockedAssets, assetID) {
		e.LockedAssets = append(e.LockedAssets, assetID)
	}
}

// End removes the entry of the token, returns false when it has already been removed.
func (r *Registry) End(t Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lookup(t); !ok {
		return false
	}
	delete(r.active, t.swapID)
	return true
}

// Get returns copy of the execution info.
func (r *Registry) Get(swapID string) (ActiveSwapExecution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[swapID]
	if !ok {
		return ActiveSwapExecution{}, false
	}
	return e.clone(), true
}

// Active returns snapshot of the tracked executions ordered by start time.
func (r *Registry) Active() []ActiveSwapExecution {
	r.mu.Lock()
	res := make([]ActiveSwapExecution, 0, len(r.active))
	for _, e := range r.active {
		res = append(res, e.clone())
	}
	r.mu.Unlock()

	slices.SortFunc(res, func(a, b ActiveSwapExecution) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SwapID, b.SwapID)
	})
	return res
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// CleanupExpired removes executions started more than maxAge ago and returns the number of removed entries.
func (r *Registry) CleanupExpired(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.clock().Add(-maxAge)
	cnt := 0
	for id, e := range r.active {
		if e.StartedAt.Before(cutoff) {
			delete(r.active, id)
			cnt++
		}
	}
	return cnt
}

func (e *ActiveSwapExecution) clone() ActiveSwapExecution {
	c := *e
	c.LockedAssets = slices.Clone(e.LockedAssets)
	return c
}
