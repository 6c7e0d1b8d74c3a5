package scheduler

import (
	"sort"
	"sync"

	"github.com/aristath/taskloop/internal/task"
)

// ResourceLockManager provides per-file mutual exclusion when tasks of the
// same wave run concurrently. Each path gets its own mutex, so tasks touching
// different files proceed in parallel.
type ResourceLockManager struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-file mutexes
}

// NewResourceLockManager creates a new ResourceLockManager.
func NewResourceLockManager() *ResourceLockManager {
	return &ResourceLockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *ResourceLockManager) get(path string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[path]
	if !ok {
		l = &sync.Mutex{}
		r.locks[path] = l
	}
	return l
}

// LockAll acquires the locks for every path in sorted order, which prevents
// lock-order deadlocks between tasks. Duplicate paths are locked once.
// The returned function releases them in reverse order.
func (r *ResourceLockManager) LockAll(paths []string) (unlock func()) {
	sorted := uniqueSorted(paths)
	held := make([]*sync.Mutex, 0, len(sorted))
	for _, p := range sorted {
		l := r.get(p)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// LockTask locks the file a task targets, if any.
func (r *ResourceLockManager) LockTask(t *task.Task) (unlock func()) {
	if f := t.TargetFile(); f != "" {
		return r.LockAll([]string{f})
	}
	return func() {}
}

func uniqueSorted(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
