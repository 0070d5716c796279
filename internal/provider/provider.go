// Package provider implements the per-source calendar adapters. Every
// source, local or remote, satisfies the same Adapter contract so the
// aggregator never branches on provider kind.
package provider

import (
	"context"
	"fmt"
	"time"

	"pland/internal/planner"
)

// Adapter fetches one account's events overlapping the half-open range
// [start, end).
type Adapter interface {
	Kind() planner.Provider
	FetchEvents(ctx context.Context, account planner.CalendarAccount, start, end time.Time) ([]planner.Event, error)
}

// CredentialSource resolves an account's opaque credential reference to
// the secret it names: an access token for OAuth providers, a feed URL
// for ICS subscriptions. Raw secrets never reach the datastore.
type CredentialSource interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// StaticCredentials is a CredentialSource backed by a fixed map, loaded
// from configuration.
type StaticCredentials map[string]string

func (s StaticCredentials) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := s[ref]
	if !ok {
		return "", fmt.Errorf("credential ref %q not configured", ref)
	}
	return v, nil
}

// Registry maps provider kinds to their adapters.
type Registry struct {
	adapters map[planner.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[planner.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

// For returns the adapter registered for the provider kind.
func (r *Registry) For(p planner.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter for provider %q", p)
	}
	return a, nil
}
