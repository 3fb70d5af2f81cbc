package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/psinet/trustd/internal/credits"
)

// Event represents an immutable ledger event.
type Event struct {
	ID           int64     `json:"id"`
	Principal    string    `json:"principal"`
	EventType    string    `json:"eventType"`
	Amount       string    `json:"amount"`
	Reference    string    `json:"reference,omitempty"`
	Counterparty string    `json:"counterparty,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ReconciliationResult holds the outcome of replaying events vs actual balance.
type ReconciliationResult struct {
	Principal       string `json:"principal"`
	Match           bool   `json:"match"`
	ReplayAvailable string `json:"replayAvailable"`
	ReplayEscrowed  string `json:"replayEscrowed"`
	ActualAvailable string `json:"actualAvailable"`
	ActualEscrowed  string `json:"actualEscrowed"`
}

// EventStore persists and queries immutable ledger events.
type EventStore interface {
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, principal string, since time.Time) ([]*Event, error)
	GetAllPrincipals(ctx context.Context) ([]string, error)
}

// RebuildBalance replays a sequence of events to reconstruct a balance.
func RebuildBalance(principal string, events []*Event) *Balance {
	available := big.NewInt(0)
	escrowed := big.NewInt(0)
	totalIn := big.NewInt(0)
	totalOut := big.NewInt(0)

	for _, e := range events {
		amt, ok := credits.Parse(e.Amount)
		if !ok {
			continue
		}

		switch e.EventType {
		case "deposit":
			available.Add(available, amt)
			totalIn.Add(totalIn, amt)
		case "escrow_lock":
			available.Sub(available, amt)
			escrowed.Add(escrowed, amt)
		case "escrow_release":
			escrowed.Sub(escrowed, amt)
			totalOut.Add(totalOut, amt)
		case "escrow_receive":
			available.Add(available, amt)
			totalIn.Add(totalIn, amt)
		case "escrow_refund":
			escrowed.Sub(escrowed, amt)
			available.Add(available, amt)
		}
	}

	return &Balance{
		Principal: principal,
		Available: credits.Format(available),
		Escrowed:  credits.Format(escrowed),
		TotalIn:   credits.Format(totalIn),
		TotalOut:  credits.Format(totalOut),
	}
}

// BalanceAtTime returns a principal's balance at a point in time by replaying events.
func BalanceAtTime(ctx context.Context, es EventStore, principal string, ts time.Time) (*Balance, error) {
	events, err := es.GetEvents(ctx, principal, time.Time{})
	if err != nil {
		return nil, err
	}

	var filtered []*Event
	for _, e := range events {
		if !e.CreatedAt.After(ts) {
			filtered = append(filtered, e)
		}
	}

	return RebuildBalance(principal, filtered), nil
}

// ReconcilePrincipal replays events for one principal and compares against actual balance.
func ReconcilePrincipal(ctx context.Context, es EventStore, store Store, principal string) (*ReconciliationResult, error) {
	events, err := es.GetEvents(ctx, principal, time.Time{})
	if err != nil {
		return nil, err
	}

	replayed := RebuildBalance(principal, events)

	actual, err := store.GetBalance(ctx, principal)
	if err != nil {
		return nil, err
	}

	// Normalize actual values for consistent comparison
	actualAvail, _ := credits.Parse(actual.Available)
	actualEsc, _ := credits.Parse(actual.Escrowed)

	result := &ReconciliationResult{
		Principal:       principal,
		ReplayAvailable: replayed.Available,
		ReplayEscrowed:  replayed.Escrowed,
		ActualAvailable: credits.Format(actualAvail),
		ActualEscrowed:  credits.Format(actualEsc),
	}

	result.Match = replayed.Available == result.ActualAvailable &&
		replayed.Escrowed == result.ActualEscrowed

	return result, nil
}

// ReconcileAll replays events for all principals and returns discrepancies.
func ReconcileAll(ctx context.Context, es EventStore, store Store) ([]*ReconciliationResult, error) {
	principals, err := es.GetAllPrincipals(ctx)
	if err != nil {
		return nil, err
	}

	var results []*ReconciliationResult
	for _, p := range principals {
		r, err := ReconcilePrincipal(ctx, es, store, p)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, nil
}
