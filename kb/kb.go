// Package kb holds the object model knowledge a federation runs on: a
// catalogue of FOM modules and the handle-resolved ObjectModel built from
// them.
package kb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/signalsfoundry/rti/model"
)

var (
	ErrModuleExists   = errors.New("module already exists")
	ErrModuleNotFound = errors.New("module not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventModuleAdded EventType = iota
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type   EventType
	Module string
}

// KnowledgeBase is an in-memory, thread-safe catalogue of FOM modules that
// federation creation requests may reference by name.
type KnowledgeBase struct {
	mu sync.RWMutex

	modules map[string]*Module

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		modules: make(map[string]*Module),
	}
}

// AddModule registers a module. It returns an error if the name is taken.
func (kb *KnowledgeBase) AddModule(m *Module) error {
	if m == nil || strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: nil or unnamed module", model.ErrCouldNotOpenFDD)
	}

	kb.mu.Lock()
	if _, exists := kb.modules[m.Name]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrModuleExists, m.Name)
	}
	kb.modules[m.Name] = m
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(Event{Type: EventModuleAdded, Module: m.Name})
	}
	return nil
}

// GetModule returns the module with the given name, or nil if not found.
func (kb *KnowledgeBase) GetModule(name string) *Module {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.modules[name]
}

// ListModules returns the registered module names in sorted order.
func (kb *KnowledgeBase) ListModules() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]string, 0, len(kb.modules))
	for name := range kb.modules {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// Resolve returns the modules named by designators, in order.
func (kb *KnowledgeBase) Resolve(designators []string) ([]*Module, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]*Module, 0, len(designators))
	for _, d := range designators {
		m, ok := kb.modules[d]
		if !ok {
			return nil, fmt.Errorf("%w: %w: %q", model.ErrCouldNotOpenFDD, ErrModuleNotFound, d)
		}
		out = append(out, m)
	}
	return out, nil
}

// LoadDir registers every *.json module found in dir.
func (kb *KnowledgeBase) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrCouldNotOpenFDD, err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		m, err := LoadModule(filepath.Join(dir, e.Name()))
		if err != nil {
			return n, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := kb.AddModule(m); err != nil {
			return n, fmt.Errorf("%s: %w", e.Name(), err)
		}
		n++
	}
	return n, nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}
