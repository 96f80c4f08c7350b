package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Backend executes a skill for a role. The dispatcher validates payloads on
// both sides of Invoke; backends only move them.
type Backend interface {
	Name() string
	Invoke(ctx context.Context, role, skill string, input map[string]any) (map[string]any, error)
}

// HandlerFunc implements one skill in-process.
type HandlerFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// LocalBackend looks skills up in an in-process handler table.
type LocalBackend struct {
	mu       sync.RWMutex
	handlers map[string]map[string]HandlerFunc
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{handlers: make(map[string]map[string]HandlerFunc)}
}

func (b *LocalBackend) Name() string { return "local" }

// Register installs h for (role, skill), replacing any earlier handler.
func (b *LocalBackend) Register(role, skill string, h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[role] == nil {
		b.handlers[role] = make(map[string]HandlerFunc)
	}
	b.handlers[role][skill] = h
}

// Skills lists the registered skills per role, sorted.
func (b *LocalBackend) Skills() map[string][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]string, len(b.handlers))
	for role, skills := range b.handlers {
		for skill := range skills {
			out[role] = append(out[role], skill)
		}
		sort.Strings(out[role])
	}
	return out
}

// Invoke runs the handler synchronously on the caller's goroutine. A handler
// panic is reported as an agent failure.
func (b *LocalBackend) Invoke(ctx context.Context, role, skill string, input map[string]any) (out map[string]any, err error) {
	b.mu.RLock()
	h := b.handlers[role][skill]
	b.mu.RUnlock()
	if h == nil {
		return nil, &Error{Kind: KindUnsupported, Role: role, Skill: skill, Err: fmt.Errorf("no local handler")}
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &Error{Kind: KindAgentFailed, Role: role, Skill: skill, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out, err = h(ctx, input)
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &Error{Kind: KindAgentFailed, Role: role, Skill: skill, Err: err}
	}
	return out, nil
}
