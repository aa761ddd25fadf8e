package spatial

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
)

func (e *Engine) enqueue(op string, apply func() error) {
	e.inMu.Lock()
	e.commands = append(e.commands, command{op: op, apply: apply})
	e.inMu.Unlock()
}

// Pending returns the number of commands waiting for the next tick.
func (e *Engine) Pending() int {
	e.inMu.Lock()
	defer e.inMu.Unlock()
	return len(e.commands)
}

// applyCommands runs the queued mutations in call order. A failing command is
// logged and skipped; the rest still apply. Requires the exclusive lock.
func (e *Engine) applyCommands() (applied, rejected int) {
	e.inMu.Lock()
	cmds := e.commands
	e.commands = nil
	e.inMu.Unlock()

	for _, c := range cmds {
		if err := c.apply(); err != nil {
			rejected++
			e.log.Error("mutation rejected", zap.String("op", c.op), zap.Error(err))
			continue
		}
		applied++
	}
	return applied, rejected
}

// readInputs copies the latest transforms onto the registered objects.
func (e *Engine) readInputs() {
	e.inMu.Lock()
	defer e.inMu.Unlock()
	for id, t := range e.inputs {
		if o, ok := e.objects[id]; ok {
			o.transform = t
		}
	}
}

func (e *Engine) applySetGeometry(id geometry.SetID, p geometry.Params) error {
	g, err := geometry.NewGeometrySet(id, p, e.opts.Tolerances)
	if err != nil {
		return err
	}
	if old, ok := e.sets[id]; ok {
		e.dropSet(old)
	}
	e.syncScenes()
	sc := e.sceneFor(g.Room)
	if err := g.Index(sc); err != nil {
		_ = g.Term()
		return err
	}
	sc.Retain()
	e.sets[id] = g
	return nil
}

func (e *Engine) applyRemoveGeometry(id geometry.SetID) error {
	g, ok := e.sets[id]
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownGeometry, id)
	}
	e.dropSet(g)
	return nil
}

func (e *Engine) dropSet(g *geometry.GeometrySet) {
	if sc := g.Scene(); sc != nil {
		g.Unindex()
		sc.Release()
	}
	if err := g.Term(); err != nil {
		e.log.Warn("geometry not released", zap.Uint64("geometry", uint64(g.ID)), zap.Error(err))
	}
	delete(e.sets, g.ID)
}
