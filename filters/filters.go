package filters

import (
	"bytes"
	"context"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"

	"github.com/wudi/pdfmark/ir/raw"
)

var (
	ErrUnsupportedFilter = errors.New("unsupported filter")
	ErrSizeLimit         = errors.New("decompressed size exceeds limit")
)

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params raw.Dictionary) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
}

type Pipeline struct {
	reg    Registry
	limits Limits
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	p := &Pipeline{limits: limits}
	for _, d := range decoders {
		p.reg.Register(d)
	}
	return p
}

// NewDefaultPipeline registers every decoder this package implements.
func NewDefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(limits.MaxDecompressedSize),
		NewASCIIHexDecoder(),
		NewASCII85Decoder(),
		NewRunLengthDecoder(),
	}, limits)
}

func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []raw.Dictionary) ([]byte, error) {
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dec, ok := p.reg.Get(canonicalName(name))
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
		}
		var param raw.Dictionary
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, ErrSizeLimit
		}
		data = out
	}
	return data, nil
}

// DecodeStream runs the stream's /Filter chain over its payload.
func (p *Pipeline) DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	names, params := ExtractFilters(s.Dict)
	if len(names) == 0 {
		return s.Data, nil
	}
	return p.Decode(ctx, s.Data, names, params)
}

type Registry struct{ decoders map[string]Decoder }

func (r *Registry) Register(d Decoder) {
	if r.decoders == nil {
		r.decoders = make(map[string]Decoder)
	}
	r.decoders[d.Name()] = d
}
func (r *Registry) Get(name string) (Decoder, bool) { d, ok := r.decoders[name]; return d, ok }

// canonicalName maps inline-image abbreviations onto full filter names.
func canonicalName(name string) string {
	switch name {
	case "Fl":
		return "FlateDecode"
	case "AHx":
		return "ASCIIHexDecode"
	case "A85":
		return "ASCII85Decode"
	case "RL":
		return "RunLengthDecode"
	}
	return name
}

type flateDecoder struct{ max int64 }

func (flateDecoder) Name() string { return "FlateDecode" }

// NewFlateDecoder returns a FlateDecode decoder; max bounds the inflated size (0 = unbounded).
func NewFlateDecoder(max int64) Decoder { return flateDecoder{max: max} }

func (d flateDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	out, err := d.inflate(in)
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, params)
}

func (d flateDecoder) inflate(in []byte) ([]byte, error) {
	var r io.ReadCloser
	zr, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		// Some writers omit the zlib header and emit bare deflate data.
		r = flate.NewReader(bytes.NewReader(in))
	} else {
		r = zr
	}
	defer r.Close()

	var src io.Reader = r
	if d.max > 0 {
		src = io.LimitReader(r, d.max+1)
	}
	var out bytes.Buffer
	_, err = io.Copy(&out, src)
	if d.max > 0 && int64(out.Len()) > d.max {
		return nil, ErrSizeLimit
	}
	if err != nil {
		// A truncated stream still yields usable content; keep what was inflated.
		if out.Len() > 0 && (errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, zlib.ErrChecksum)) {
			return out.Bytes(), nil
		}
		return nil, err
	}
	return out.Bytes(), nil
}

type asciiHexDecoder struct{}

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }
func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	if i := bytes.IndexByte(in, '>'); i >= 0 {
		in = in[:i]
	}
	digits := make([]byte, 0, len(in))
	for _, c := range in {
		switch c {
		case ' ', '\t', '\r', '\n', '\f', 0:
			continue
		}
		digits = append(digits, c)
	}
	// an odd trailing digit is padded with 0
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	result := make([]byte, hex.DecodedLen(len(digits)))
	n, err := hex.Decode(result, digits)
	if err != nil {
		return nil, err
	}
	return result[:n], nil
}
func NewASCIIHexDecoder() Decoder { return asciiHexDecoder{} }

type ascii85Decoder struct{}

func (ascii85Decoder) Name() string { return "ASCII85Decode" }
func (ascii85Decoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	trimmed = bytes.TrimPrefix(trimmed, []byte("<~"))
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, len(trimmed)*4/5+4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}
func NewASCII85Decoder() Decoder { return ascii85Decoder{} }

type runLengthDecoder struct{}

func (runLengthDecoder) Name() string { return "RunLengthDecode" }
func (runLengthDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(in); {
		n := int(in[i])
		i++
		switch {
		case n == 128:
			return out.Bytes(), nil
		case n < 128:
			end := i + n + 1
			if end > len(in) {
				return nil, errors.New("run length literal overruns input")
			}
			out.Write(in[i:end])
			i = end
		default:
			if i >= len(in) {
				return nil, errors.New("run length repeat missing byte")
			}
			out.Write(bytes.Repeat(in[i:i+1], 257-n))
			i++
		}
	}
	return out.Bytes(), nil
}
func NewRunLengthDecoder() Decoder { return runLengthDecoder{} }

// EncodeFlate compresses data for a /FlateDecode stream.
func EncodeFlate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
