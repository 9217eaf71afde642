package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/kioskvoice/pkg/audio"
	"github.com/MrWong99/kioskvoice/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	transport map[string]func(ProviderEntry) (s2s.Provider, error)
	audio     map[string]func(ProviderEntry) (audio.Driver, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transport: make(map[string]func(ProviderEntry) (s2s.Provider, error)),
		audio:     make(map[string]func(ProviderEntry) (audio.Driver, error)),
	}
}

// RegisterTransport registers a realtime transport factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTransport(name string, factory func(ProviderEntry) (s2s.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport[name] = factory
}

// RegisterAudio registers an audio backend factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Driver, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateTransport instantiates the transport registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateTransport(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transport[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transport/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates the audio backend registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Driver, error) {
	r.mu.RLock()
	factory, ok := r.audio[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered names of one kind ("transport" or "audio"),
// sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "transport":
		for n := range r.transport {
			names = append(names, n)
		}
	case "audio":
		for n := range r.audio {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}
