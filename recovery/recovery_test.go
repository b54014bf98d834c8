package recovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestStrictStrategyFails(t *testing.T) {
	got := NewStrictStrategy().OnError(context.Background(), errors.New("bad xref"), Location{Component: "xref"})
	if got != ActionFail {
		t.Fatalf("action = %v, want ActionFail", got)
	}
}

func TestLenientStrategyRecordsProblems(t *testing.T) {
	s := NewLenientStrategy()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a := s.OnError(context.Background(), errors.New("stale offset"), Location{ByteOffset: 42, Component: "loader"}); a != ActionFix {
				t.Errorf("action = %v, want ActionFix", a)
			}
		}()
	}
	wg.Wait()
	if s.Count() != 8 {
		t.Fatalf("count = %d", s.Count())
	}
	if msg := s.Errors[0].Error(); !strings.Contains(msg, "[loader] offset 42") {
		t.Fatalf("unexpected message %q", msg)
	}
}
