package usecase

import "sync/atomic"

// RunGuard admits at most one run at a time within a process.
type RunGuard struct {
	running atomic.Bool
}

// TryEnter marks the guard busy and reports whether the caller got in.
func (g *RunGuard) TryEnter() bool {
	return g.running.CompareAndSwap(false, true)
}

// Exit returns the guard to idle. Callers defer it right after a successful TryEnter.
func (g *RunGuard) Exit() {
	g.running.Store(false)
}

// Busy reports whether a run currently holds the guard.
func (g *RunGuard) Busy() bool {
	return g.running.Load()
}
