package property

import (
	"context"
	"fmt"
	"slices"

	"github.com/depthkit/devcore/pkg/log"
)

type notifyKey struct{}

// notifyState is carried in the context of callbacks so nested operations
// can see which ids are already being notified.
type notifyState struct {
	ids   []ID
	depth int
}

// RegisterAccessCallback registers cb for reads and writes of ids. It
// returns a handle for UnregisterAccessCallback.
func (s *Server) RegisterAccessCallback(ids []ID, cb AccessCallback) CallbackHandle {
	set := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.nextHandle++
	h := s.nextHandle
	s.callbacks[h] = &callbackEntry{ids: set, cb: cb}
	return h
}

// UnregisterAccessCallback removes a callback. It reports whether the
// handle was registered.
func (s *Server) UnregisterAccessCallback(h CallbackHandle) bool {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if _, ok := s.callbacks[h]; !ok {
		return false
	}
	delete(s.callbacks, h)
	return true
}

// notify invokes the callbacks registered for id or its resolved target.
// Nested notification of an id already being dispatched on this call chain
// is suppressed.
func (s *Server) notify(ctx context.Context, id, resolved ID, op Op) {
	state, _ := ctx.Value(notifyKey{}).(*notifyState)
	if state != nil {
		if slices.Contains(state.ids, resolved) {
			s.debugLog("nested property notification suppressed", "property", id, "op", op)
			return
		}
		if state.depth >= maxNotifyDepth {
			s.debugLog("property notification depth exceeded", "property", id, "op", op, "depth", state.depth)
			return
		}
	}

	type match struct {
		cb AccessCallback
		id ID
	}
	var matches []match
	s.cbMu.RLock()
	for _, e := range s.callbacks {
		if _, ok := e.ids[id]; ok {
			matches = append(matches, match{e.cb, id})
		} else if _, ok := e.ids[resolved]; ok {
			matches = append(matches, match{e.cb, resolved})
		}
	}
	s.cbMu.RUnlock()
	if len(matches) == 0 {
		return
	}

	next := &notifyState{depth: 1}
	if state != nil {
		next.ids = slices.Clone(state.ids)
		next.depth = state.depth + 1
	}
	next.ids = append(next.ids, resolved)
	cbCtx := context.WithValue(ctx, notifyKey{}, next)

	for _, m := range matches {
		s.invoke(cbCtx, m.cb, m.id, op)
	}
}

// invoke runs one callback. Errors and panics are logged, never returned.
func (s *Server) invoke(ctx context.Context, cb AccessCallback, id ID, op Op) {
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("callback panic: %v", p)
		}
		if err == nil {
			return
		}
		s.mu.RLock()
		logger, em := s.logger, s.events
		s.mu.RUnlock()
		if logger != nil {
			logger.Warn("property access callback failed", "property", id, "op", op, "error", err)
		}
		em.Error(log.LayerProperty, "", "", "access callback "+id.String()+" "+op.String(), err)
	}()
	err = cb(ctx, id, op)
}
