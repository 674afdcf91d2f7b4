package claims

import "sync"

// claimLocks serializes all mutations for a single claim ID. Claims are
// processed independently; the lock only orders writers of the same claim.
// Entries are refcounted and evicted on the last unlock so the map does not
// grow with the claim population.
type claimLocks struct {
	locks map[string]*claimLock
	mu    sync.Mutex
}

type claimLock struct {
	mu   sync.Mutex
	refs int
}

func newClaimLocks() *claimLocks {
	return &claimLocks{
		locks: make(map[string]*claimLock),
	}
}

// Lock acquires the mutex for the claim, creating it on first use
func (c *claimLocks) Lock(claimID string) {
	c.mu.Lock()
	lock, ok := c.locks[claimID]
	if !ok {
		lock = &claimLock{}
		c.locks[claimID] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()
}

// Unlock releases the mutex for the claim, dropping the entry when no other
// goroutine holds or waits on it
func (c *claimLocks) Unlock(claimID string) {
	c.mu.Lock()
	lock, ok := c.locks[claimID]
	if !ok {
		c.mu.Unlock()
		return
	}
	lock.refs--
	if lock.refs == 0 {
		delete(c.locks, claimID)
	}
	c.mu.Unlock()

	lock.mu.Unlock()
}
