package persistence

import "sync"

// namedMutexes serializes writers per name (one mutex per workflow, or
// a single shared one for whole-collection stores). The zero value is
// ready to use.
type namedMutexes struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

// lock acquires the mutex for name and returns its unlock function.
func (n *namedMutexes) lock(name string) func() {
	n.mu.Lock()
	if n.mutexes == nil {
		n.mutexes = make(map[string]*sync.Mutex)
	}
	m, ok := n.mutexes[name]
	if !ok {
		m = &sync.Mutex{}
		n.mutexes[name] = m
	}
	n.mu.Unlock()

	m.Lock()
	return m.Unlock
}
