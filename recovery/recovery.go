package recovery

import "context"

// Strategy decides what to do when the scanner or xref resolver hits malformed input.
type Strategy interface {
	OnError(ctx context.Context, err error, location Location) Action
}

type Location struct {
	ByteOffset int64
	ObjectNum  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)
