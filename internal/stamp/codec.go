// Package stamp decodes cutout payloads: an optional gzip envelope around a
// FITS container whose primary HDU holds the image.
package stamp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/astrogo/fitsio"
	"github.com/klauspost/compress/gzip"

	"github.com/mohammed-shakir/cutout-service/internal/core/apperr"
	"github.com/mohammed-shakir/cutout-service/internal/core/model"
)

// upper bound for a gunzipped stamp; real cutouts are a few tens of KiB
const maxDecompressed = 64 << 20

type Stamp struct {
	Pixels *Pixels // set for FormatArray
	FITS   []byte  // set for FormatFITS
}

func Decode(raw []byte, format model.ReturnFormat, compressed bool) (Stamp, error) {
	if len(raw) == 0 {
		return Stamp{}, apperr.CorruptData(nil, "empty stamp payload")
	}
	if compressed {
		var err error
		raw, err = gunzip(raw)
		if err != nil {
			return Stamp{}, err
		}
	}

	f, err := fitsio.Open(bytes.NewReader(raw))
	if err != nil {
		return Stamp{}, apperr.CorruptData(err, "parse FITS container")
	}
	defer func() { _ = f.Close() }()

	hdus := f.HDUs()
	if len(hdus) == 0 {
		return Stamp{}, apperr.CorruptData(nil, "FITS container has no HDU")
	}

	img, ok := hdus[0].(fitsio.Image)
	if !ok {
		return Stamp{}, apperr.CorruptData(nil, "primary HDU is not an image")
	}
	if _, _, err := layout(img); err != nil {
		return Stamp{}, err
	}

	if format == model.FormatFITS {
		out, err := reencode(hdus)
		if err != nil {
			return Stamp{}, err
		}
		return Stamp{FITS: out}, nil
	}
	px, err := pixelsOf(img)
	if err != nil {
		return Stamp{}, err
	}
	return Stamp{Pixels: &px}, nil
}

func gunzip(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, apperr.CorruptData(err, "open gzip envelope")
	}
	defer func() { _ = zr.Close() }()

	out, err := io.ReadAll(io.LimitReader(zr, maxDecompressed+1))
	if err != nil {
		return nil, apperr.CorruptData(err, "gunzip stamp")
	}
	if len(out) > maxDecompressed {
		return nil, apperr.CorruptData(nil, "gunzipped stamp exceeds %d bytes", maxDecompressed)
	}
	return out, nil
}

func reencode(hdus []fitsio.HDU) ([]byte, error) {
	var buf bytes.Buffer
	out, err := fitsio.Create(&buf)
	if err != nil {
		return nil, apperr.Internal(err, "create FITS writer")
	}
	for i, hdu := range hdus {
		if err := out.Write(hdu); err != nil {
			return nil, apperr.CorruptData(err, "re-encode HDU %d", i)
		}
	}
	if err := out.Close(); err != nil {
		return nil, apperr.CorruptData(err, "flush FITS container")
	}
	return buf.Bytes(), nil
}

// layout checks that the primary image has data and returns its row-major
// shape and sample count.
func layout(img fitsio.Image) ([]int, int, error) {
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) == 0 {
		return nil, 0, apperr.CorruptData(nil, "primary HDU carries no image data")
	}

	n := 1
	shape := make([]int, len(axes))
	for i, a := range axes {
		if a <= 0 {
			return nil, 0, apperr.CorruptData(nil, "invalid NAXIS%d=%d", i+1, a)
		}
		n *= a
		// FITS lists the fastest axis first
		shape[len(axes)-1-i] = a
	}

	width := hdr.Bitpix() / 8
	if width < 0 {
		width = -width
	}
	if raw := img.Raw(); width == 0 || len(raw) < n*width {
		return nil, 0, apperr.CorruptData(nil, "image data truncated: have %d bytes, want %d", len(raw), n*width)
	}
	return shape, n, nil
}

func pixelsOf(img fitsio.Image) (Pixels, error) {
	shape, n, err := layout(img)
	if err != nil {
		return Pixels{}, err
	}
	hdr := img.Header()
	bitpix := hdr.Bitpix()
	raw := img.Raw()

	data := make([]float64, n)
	if err := decodeSamples(data, raw, bitpix); err != nil {
		return Pixels{}, err
	}

	bscale, hasScale := cardFloat(hdr, "BSCALE")
	bzero, hasZero := cardFloat(hdr, "BZERO")
	if !hasScale {
		bscale = 1
	}
	if (hasScale && bscale != 1) || (hasZero && bzero != 0) {
		blank, hasBlank := cardFloat(hdr, "BLANK")
		hasBlank = hasBlank && bitpix > 0
		for i, v := range data {
			if hasBlank && v == blank {
				data[i] = math.NaN()
				continue
			}
			data[i] = v*bscale + bzero
		}
	}
	return Pixels{Shape: shape, Data: data}, nil
}

func decodeSamples(dst []float64, raw []byte, bitpix int) error {
	be := binary.BigEndian
	switch bitpix {
	case 8:
		for i := range dst {
			dst[i] = float64(raw[i])
		}
	case 16:
		for i := range dst {
			dst[i] = float64(int16(be.Uint16(raw[2*i:])))
		}
	case 32:
		for i := range dst {
			dst[i] = float64(int32(be.Uint32(raw[4*i:])))
		}
	case 64:
		for i := range dst {
			dst[i] = float64(int64(be.Uint64(raw[8*i:])))
		}
	case -32:
		for i := range dst {
			dst[i] = float64(math.Float32frombits(be.Uint32(raw[4*i:])))
		}
	case -64:
		for i := range dst {
			dst[i] = math.Float64frombits(be.Uint64(raw[8*i:]))
		}
	default:
		return apperr.CorruptData(nil, "unsupported BITPIX %d", bitpix)
	}
	return nil
}

var errNotNumeric = errors.New("card value is not numeric")

func cardFloat(hdr *fitsio.Header, name string) (float64, bool) {
	c := hdr.Get(name)
	if c == nil {
		return 0, false
	}
	v, err := toFloat(c.Value)
	if err != nil {
		return 0, false
	}
	return v, true
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("%w: %T", errNotNumeric, v)
	}
}
