package filters

import (
	"errors"

	"github.com/wudi/pdfmark/ir/raw"
)

type predictorParams struct {
	predictor int
	colors    int
	bpc       int
	columns   int
}

func readPredictorParams(params raw.Dictionary) predictorParams {
	p := predictorParams{predictor: 1, colors: 1, bpc: 8, columns: 1}
	if params == nil {
		return p
	}
	get := func(key string, dst *int) {
		if v, ok := params.Get(raw.NameLiteral(key)); ok {
			if n, ok := raw.AsInt(v); ok && n > 0 {
				*dst = int(n)
			}
		}
	}
	get("Predictor", &p.predictor)
	get("Colors", &p.colors)
	get("BitsPerComponent", &p.bpc)
	get("Columns", &p.columns)
	return p
}

// applyPredictor reverses TIFF (2) and PNG (10-15) prediction.
func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	p := readPredictorParams(params)
	switch {
	case p.predictor == 1:
		return data, nil
	case p.predictor == 2:
		return tiffPredictor(data, p)
	case p.predictor >= 10:
		return pngPredictor(data, p)
	default:
		return nil, errors.New("unknown predictor")
	}
}

func (p predictorParams) rowBytes() (row, bpp int) {
	row = (p.colors*p.bpc*p.columns + 7) / 8
	bpp = (p.colors*p.bpc + 7) / 8
	if bpp < 1 {
		bpp = 1
	}
	return row, bpp
}

func pngPredictor(data []byte, p predictorParams) ([]byte, error) {
	rowLen, bpp := p.rowBytes()
	stride := rowLen + 1
	out := make([]byte, 0, len(data)/stride*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for off := 0; off < len(data); off += stride {
		end := off + stride
		if end > len(data) {
			// Short trailing row: decode what is there.
			end = len(data)
		}
		filter := data[off]
		src := data[off+1 : end]
		clear(cur)
		copy(cur, src)
		for i := 0; i < len(src); i++ {
			var left, up, upLeft byte
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			up = prev[i]
			switch filter {
			case 0:
			case 1:
				cur[i] += left
			case 2:
				cur[i] += up
			case 3:
				cur[i] += byte((int(left) + int(up)) / 2)
			case 4:
				cur[i] += paeth(left, up, upLeft)
			default:
				return nil, errors.New("invalid png predictor row filter")
			}
		}
		out = append(out, cur[:len(src)]...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func tiffPredictor(data []byte, p predictorParams) ([]byte, error) {
	if p.bpc != 8 {
		return nil, errors.New("tiff predictor supports 8 bits per component only")
	}
	rowLen, bpp := p.rowBytes()
	out := append([]byte(nil), data...)
	for off := 0; off < len(out); off += rowLen {
		end := off + rowLen
		if end > len(out) {
			end = len(out)
		}
		for i := off + bpp; i < end; i++ {
			out[i] += out[i-bpp]
		}
	}
	return out, nil
}
