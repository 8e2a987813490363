package state

import "context"

// Store persists the single ledger State row. GetState returns an error
// wrapping the root not-found sentinel when no state has been saved yet.
type Store interface {
	GetState(ctx context.Context) (*State, error)
	SaveState(ctx context.Context, s *State) error
}
