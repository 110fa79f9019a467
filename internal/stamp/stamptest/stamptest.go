// Package stamptest builds FITS cutout fixtures for tests.
package stamptest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const blockSize = 2880

// Image is a float32 primary image, row-major with Rows = NAXIS2.
type Image struct {
	Rows, Cols int
	Data       []float32
	Extra      map[string]string // additional raw header values, e.g. "OBJECT": "'ZTF1'"
}

// Ramp returns an image whose pixels are seed + row*cols + col, so that
// different seeds give pairwise different images.
func Ramp(rows, cols int, seed float32) Image {
	data := make([]float32, rows*cols)
	for i := range data {
		data[i] = seed + float32(i)
	}
	return Image{Rows: rows, Cols: cols, Data: data}
}

func (img Image) At(r, c int) float32 { return img.Data[r*img.Cols+c] }

// FITS encodes img as a single-HDU FITS file with BITPIX=-32.
func (img Image) FITS() []byte {
	data := make([]byte, 4*len(img.Data))
	for i, v := range img.Data {
		binary.BigEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return Encode(-32, []int{img.Cols, img.Rows}, img.Extra, data)
}

// Encode writes a primary HDU with the given BITPIX and axes (NAXIS1 first)
// around already big-endian sample bytes.
func Encode(bitpix int, axes []int, extra map[string]string, data []byte) []byte {
	var hdr strings.Builder
	card(&hdr, "SIMPLE", "T")
	card(&hdr, "BITPIX", fmt.Sprint(bitpix))
	card(&hdr, "NAXIS", fmt.Sprint(len(axes)))
	for i, a := range axes {
		card(&hdr, fmt.Sprintf("NAXIS%d", i+1), fmt.Sprint(a))
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		card(&hdr, k, extra[k])
	}
	hdr.WriteString(fmt.Sprintf("%-80s", "END"))

	var buf bytes.Buffer
	buf.WriteString(hdr.String())
	pad(&buf, ' ')
	buf.Write(data)
	pad(&buf, 0)
	return buf.Bytes()
}

// Gzipped returns the FITS bytes inside a gzip envelope, as stored for ZTF.
func (img Image) Gzipped() []byte {
	return Gzip(img.FITS())
}

func Gzip(b []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(b)
	_ = zw.Close()
	return buf.Bytes()
}

func card(sb *strings.Builder, key, value string) {
	sb.WriteString(fmt.Sprintf("%-80s", fmt.Sprintf("%-8s= %20s", key, value)))
}

func pad(buf *bytes.Buffer, fill byte) {
	if rem := buf.Len() % blockSize; rem != 0 {
		buf.Write(bytes.Repeat([]byte{fill}, blockSize-rem))
	}
}
