package recovery

import (
	"context"
	"fmt"
	"sync"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(context.Context, error, Location) Action {
	return ActionFail
}

// LenientStrategy keeps going where the input allows it and records every
// problem it was asked about.
type LenientStrategy struct {
	mu     sync.Mutex
	Errors []error
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{}
}

func (s *LenientStrategy) OnError(_ context.Context, err error, location Location) Action {
	s.mu.Lock()
	s.Errors = append(s.Errors, fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err))
	s.mu.Unlock()
	return ActionFix
}

// Count returns how many problems were recorded.
func (s *LenientStrategy) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Errors)
}
