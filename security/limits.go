package security

// Limits defines resource boundaries for parsing and processing PDFs.
type Limits struct {
	// Maximum decompressed stream size. Default: 100 MB.
	MaxDecompressedSize int64
	// Maximum XRef chain depth (Prev entries). Default: 50.
	MaxXRefDepth int
	// Maximum Form XObject nesting depth. Default: 20.
	MaxXObjectDepth int
	// Maximum reference chain followed when resolving an object. Default: 100.
	MaxIndirectDepth int
	// Maximum string length (bytes). Default: 10 MB.
	MaxStringLength int64
}

// DefaultLimits returns a Limits struct with safe default values.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 100 * 1024 * 1024,
		MaxXRefDepth:        50,
		MaxXObjectDepth:     20,
		MaxIndirectDepth:    100,
		MaxStringLength:     10 * 1024 * 1024,
	}
}

// WithDefaults fills every zero field from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxDecompressedSize <= 0 {
		l.MaxDecompressedSize = d.MaxDecompressedSize
	}
	if l.MaxXRefDepth <= 0 {
		l.MaxXRefDepth = d.MaxXRefDepth
	}
	if l.MaxXObjectDepth <= 0 {
		l.MaxXObjectDepth = d.MaxXObjectDepth
	}
	if l.MaxIndirectDepth <= 0 {
		l.MaxIndirectDepth = d.MaxIndirectDepth
	}
	if l.MaxStringLength <= 0 {
		l.MaxStringLength = d.MaxStringLength
	}
	return l
}
