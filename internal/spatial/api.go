package spatial

import (
	"fmt"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/rooms"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// SetGeometry adds or replaces a geometry set. The payload is validated now
// and indexed at the next tick.
func (e *Engine) SetGeometry(id geometry.SetID, p geometry.Params) error {
	if err := geometry.ValidateParams(&p); err != nil {
		return fmt.Errorf("geometry %d: %w", id, err)
	}
	e.enqueue("SetGeometry", func() error { return e.applySetGeometry(id, p) })
	return nil
}

// RemoveGeometry drops a geometry set at the next tick.
func (e *Engine) RemoveGeometry(id geometry.SetID) error {
	e.enqueue("RemoveGeometry", func() error { return e.applyRemoveGeometry(id) })
	return nil
}

// SetRoom adds or updates a room.
func (e *Engine) SetRoom(id geometry.RoomID, p rooms.RoomParams) error {
	if id == rooms.Outdoors {
		return rooms.ErrOutdoors
	}
	if err := rooms.ValidateRoom(&p); err != nil {
		return fmt.Errorf("room %d: %w", id, err)
	}
	e.enqueue("SetRoom", func() error { return e.graph.SetRoom(id, p) })
	return nil
}

// RemoveRoom drops a room. Game objects inside it fall back to the outdoors.
func (e *Engine) RemoveRoom(id geometry.RoomID) error {
	if id == rooms.Outdoors {
		return rooms.ErrOutdoors
	}
	e.enqueue("RemoveRoom", func() error {
		if !e.graph.RemoveRoom(id) {
			return fmt.Errorf("%w %d", rooms.ErrUnknownRoom, id)
		}
		return nil
	})
	return nil
}

// SetPortal adds or updates a portal. Both rooms must exist when the command
// is applied.
func (e *Engine) SetPortal(id geometry.PortalID, p rooms.PortalParams) error {
	if err := rooms.ValidatePortal(&p); err != nil {
		return fmt.Errorf("portal %d: %w", id, err)
	}
	e.enqueue("SetPortal", func() error { return e.graph.SetPortal(id, p) })
	return nil
}

// RemovePortal drops a portal and the holes it cut.
func (e *Engine) RemovePortal(id geometry.PortalID) error {
	e.enqueue("RemovePortal", func() error {
		if !e.graph.RemovePortal(id) {
			return fmt.Errorf("%w %d", rooms.ErrUnknownPortal, id)
		}
		e.uncut(id)
		return nil
	})
	return nil
}

// SetPortalObstructionAndOcclusion sets the attenuation of a portal.
func (e *Engine) SetPortalObstructionAndOcclusion(id geometry.PortalID, obstruction, occlusion float32) error {
	if obstruction < 0 || obstruction > 1 || occlusion < 0 || occlusion > 1 {
		return fmt.Errorf("portal %d: %w", id, ErrBadAttenuation)
	}
	e.enqueue("SetPortalObstructionAndOcclusion", func() error {
		return e.graph.SetPortalObstructionAndOcclusion(id, obstruction, occlusion)
	})
	return nil
}

// SetGameObjectInRoom places a registered game object in a room. An object in
// a room that no longer exists is moved outdoors.
func (e *Engine) SetGameObjectInRoom(obj GameObjectID, room geometry.RoomID) error {
	e.enqueue("SetGameObjectInRoom", func() error {
		o, ok := e.objects[obj]
		if !ok {
			return fmt.Errorf("%w %d", ErrUnknownGameObject, obj)
		}
		o.room = room
		return nil
	})
	return nil
}

// RegisterListener makes obj a listener.
func (e *Engine) RegisterListener(obj GameObjectID) error {
	e.enqueue("RegisterListener", func() error {
		e.object(obj).listener = true
		if _, ok := e.listeners[obj]; !ok {
			e.listeners[obj] = e.newListener(obj)
		}
		return nil
	})
	return nil
}

// RegisterEmitter makes obj an emitter.
func (e *Engine) RegisterEmitter(obj GameObjectID) error {
	e.enqueue("RegisterEmitter", func() error {
		e.object(obj).emitter = true
		if _, ok := e.emitters[obj]; !ok {
			e.emitters[obj] = e.newEmitter(obj)
		}
		return nil
	})
	return nil
}

// UnregisterGameObject drops obj with its paths.
func (e *Engine) UnregisterGameObject(obj GameObjectID) error {
	e.enqueue("UnregisterGameObject", func() error {
		if _, ok := e.objects[obj]; !ok {
			return fmt.Errorf("%w %d", ErrUnknownGameObject, obj)
		}
		delete(e.objects, obj)
		delete(e.listeners, obj)
		delete(e.emitters, obj)
		for _, em := range e.emitters {
			delete(em.pairs, obj)
		}
		e.inMu.Lock()
		delete(e.inputs, obj)
		e.inMu.Unlock()
		return nil
	})
	return nil
}

// SetTransform records the position and orientation of a game object. The
// latest transform is read at the start of each tick.
func (e *Engine) SetTransform(obj GameObjectID, t math.Transform) error {
	if t.Front.IsZero() || t.Up.IsZero() ||
		t.Front.Normalize().Cross(t.Up.Normalize()).LengthSq() < math.Epsilon {
		return fmt.Errorf("game object %d: %w", obj, ErrBadTransform)
	}
	e.inMu.Lock()
	e.inputs[obj] = t
	e.inMu.Unlock()
	return nil
}

func (e *Engine) object(id GameObjectID) *gameObject {
	o, ok := e.objects[id]
	if !ok {
		o = &gameObject{transform: math.DefaultTransform()}
		e.objects[id] = o
	}
	return o
}
