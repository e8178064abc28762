package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrUnauthorized rejects settlement calls from anyone but the operator.
	ErrUnauthorized = errors.New("caller is not the settlement operator")

	// ErrZeroOperator rejects transferring control to the zero identity.
	ErrZeroOperator = errors.New("operator identity must be non-zero")
)

// Guard holds the single operator identity. Exactly one operator exists
// at any time; settlement and operator transfer both require it.
type Guard struct {
	mu       sync.RWMutex
	operator uuid.UUID
}

func NewGuard(operator uuid.UUID) (*Guard, error) {
	if operator == uuid.Nil {
		return nil, ErrZeroOperator
	}
	return &Guard{operator: operator}, nil
}

// Operator returns the current operator identity.
func (g *Guard) Operator() uuid.UUID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.operator
}

// Require fails unless the caller is the current operator.
func (g *Guard) Require(caller uuid.UUID) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if caller != g.operator {
		return fmt.Errorf("caller %s: %w", caller, ErrUnauthorized)
	}
	return nil
}

// Transfer hands control to a new operator. Takes effect immediately:
// the old operator loses settlement rights on return.
func (g *Guard) Transfer(caller, newOperator uuid.UUID) error {
	if newOperator == uuid.Nil {
		return ErrZeroOperator
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if caller != g.operator {
		return fmt.Errorf("caller %s: %w", caller, ErrUnauthorized)
	}
	g.operator = newOperator
	return nil
}
