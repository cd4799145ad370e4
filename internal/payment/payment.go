// Package payment wraps the two payment backends behind one capability
// interface. Each provider's bespoke status vocabulary is normalized here, at
// the gateway boundary, to the shared three-state enum.
package payment

import (
	"context"
	"fmt"

	"donat/internal/core"
)

// IntentStatus is the normalized provider-side payment state.
type IntentStatus string

const (
	IntentPending IntentStatus = "pending"
	IntentSettled IntentStatus = "settled"
	IntentFailed  IntentStatus = "failed"
)

// Intent is the normalized result of creating a payment with a provider.
type Intent struct {
	ProviderID        string
	RedirectURL       string
	SettlementAddress string
	Currency          string
	Status            IntentStatus
}

// StatusResult is the normalized result of a status poll.
type StatusResult struct {
	Status            IntentStatus
	RedirectURL       string
	SettlementAddress string
}

// Provider is the capability set both backends satisfy.
type Provider interface {
	Kind() core.Provider
	CreateIntent(ctx context.Context, amount core.Money, description string) (Intent, error)
	CheckStatus(ctx context.Context, providerID string) (StatusResult, error)
}

// ProviderError wraps a transport or decode fault from a payment backend.
// Callers surface it upward unchanged and never mutate ledger state on it.
type ProviderError struct {
	Provider core.Provider
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Gateway selects a provider by kind. The provider choice is sticky per
// donation: pollers look it up from the ledger record, never from a default.
type Gateway struct {
	providers map[core.Provider]Provider
}

func NewGateway(providers ...Provider) *Gateway {
	g := &Gateway{providers: make(map[core.Provider]Provider, len(providers))}
	for _, p := range providers {
		g.providers[p.Kind()] = p
	}
	return g
}

// Provider returns the backend for the given kind, or core.ErrUnknownProvider.
func (g *Gateway) Provider(kind core.Provider) (Provider, error) {
	p, ok := g.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownProvider, kind)
	}
	return p, nil
}
