package memory

import (
	"context"
	"sync"

	"github.com/marketplace/reviewcore/internal/repository"
)

// KeyedLocker is a repository.RecomputeLocker holding one lock per product
// within the process. Entries are dropped once no caller holds or waits for
// them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker creates a locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

var _ repository.RecomputeLocker = (*KeyedLocker)(nil)

// Lock implements repository.RecomputeLocker.
func (l *KeyedLocker) Lock(ctx context.Context, productID string) (repository.UnlockFunc, error) {
	l.mu.Lock()
	kl, ok := l.locks[productID]
	if !ok {
		kl = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[productID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(productID, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-kl.ch
			l.release(productID, kl)
		})
		return nil
	}, nil
}

func (l *KeyedLocker) release(productID string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, productID)
	}
}
