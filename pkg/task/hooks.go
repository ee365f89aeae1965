package task

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Hook is a callback fired on a lifecycle transition.
type Hook func()

// HookKind selects one of the hook slots.
type HookKind int

const (
	HookStart HookKind = iota
	HookSuspend
	HookResume
	HookTerminate

	numHooks
)

// String returns the hook name.
func (k HookKind) String() string {
	switch k {
	case HookStart:
		return "start"
	case HookSuspend:
		return "suspend"
	case HookResume:
		return "resume"
	case HookTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("hook(%d)", int(k))
	}
}

// Hooks holds one optional callback per lifecycle event.
type Hooks struct {
	slots [numHooks]Hook
	mu    sync.Mutex
}

// Set installs h in the slot for kind, replacing any previous hook.
// A nil h empties the slot.
func (h *Hooks) Set(kind HookKind, hook Hook) {
	if kind < 0 || kind >= numHooks {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slots[kind] = hook
}

// Get returns the hook in the slot for kind, or nil.
func (h *Hooks) Get(kind HookKind) Hook {
	if kind < 0 || kind >= numHooks {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slots[kind]
}

// fire runs the hook for kind on the calling goroutine. An empty slot is a
// no-op. A panic inside the hook is logged and swallowed.
func (h *Hooks) fire(kind HookKind, log *zap.Logger) {
	hook := h.Get(kind)
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("hook panicked", zap.Stringer("hook", kind), zap.Any("panic", r))
		}
	}()
	hook()
}
