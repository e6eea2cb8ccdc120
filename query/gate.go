package query

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

// rotationGate makes key rotation exclusive with every other engine
// operation. Normal operations enter and leave; rotation flips the gate,
// causing new entries to fail fast with ErrBusyRotating, then waits for
// in-flight work to drain before proceeding.
type rotationGate struct {
	rotating atomic.Bool
	inflight sync.WaitGroup
}

// enter registers an operation. Callers must pair it with leave().
func (g *rotationGate) enter() error {
	if g.rotating.Load() {
		return interfaces.ErrBusyRotating
	}
	g.inflight.Add(1)
	// Re-check: a rotation may have flipped the gate between the load and
	// the Add. Backing out here keeps rotation's drain wait correct.
	if g.rotating.Load() {
		g.inflight.Done()
		return interfaces.ErrBusyRotating
	}
	return nil
}

func (g *rotationGate) leave() {
	g.inflight.Done()
}

// beginRotation closes the gate and blocks until in-flight operations
// drain. Returns ErrBusyRotating if another rotation is already running.
func (g *rotationGate) beginRotation() error {
	if !g.rotating.CompareAndSwap(false, true) {
		return interfaces.ErrBusyRotating
	}
	g.inflight.Wait()
	return nil
}

func (g *rotationGate) endRotation() {
	g.rotating.Store(false)
}
