package stamp

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/mohammed-shakir/cutout-service/internal/core/apperr"
	"github.com/mohammed-shakir/cutout-service/internal/core/model"
	"github.com/mohammed-shakir/cutout-service/internal/stamp/stamptest"
)

func TestDecode_ArrayFromCompressed(t *testing.T) {
	img := stamptest.Ramp(63, 63, 1.5)

	st, err := Decode(img.Gzipped(), model.FormatArray, true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if st.Pixels == nil || st.FITS != nil {
		t.Fatalf("expected pixels only, got %+v", st)
	}
	px := *st.Pixels
	if px.Rows() != 63 || px.Cols() != 63 {
		t.Fatalf("shape=%v want [63 63]", px.Shape)
	}
	for _, rc := range [][2]int{{0, 0}, {0, 62}, {10, 3}, {62, 62}} {
		got := px.Data[rc[0]*63+rc[1]]
		if want := float64(img.At(rc[0], rc[1])); got != want {
			t.Fatalf("pixel %v=%v want %v", rc, got, want)
		}
	}
}

func TestDecode_NonSquareShapeIsRowsByCols(t *testing.T) {
	img := stamptest.Ramp(3, 5, 0)
	st, err := Decode(img.FITS(), model.FormatArray, false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := st.Pixels.Shape; len(got) != 2 || got[0] != 3 || got[1] != 5 {
		t.Fatalf("shape=%v want [3 5]", got)
	}
	// second row starts at NAXIS1
	if st.Pixels.Data[5] != 5 {
		t.Fatalf("row-major layout broken: data[5]=%v", st.Pixels.Data[5])
	}
}

func TestDecode_FITSRoundTripMatchesArray(t *testing.T) {
	img := stamptest.Ramp(63, 63, -20)
	raw := img.Gzipped()

	arr, err := Decode(raw, model.FormatArray, true)
	if err != nil {
		t.Fatalf("array decode: %v", err)
	}
	fits, err := Decode(raw, model.FormatFITS, true)
	if err != nil {
		t.Fatalf("fits decode: %v", err)
	}
	if len(fits.FITS) == 0 || len(fits.FITS)%2880 != 0 {
		t.Fatalf("FITS output must be non-empty 2880-byte blocks; got %d bytes", len(fits.FITS))
	}

	again, err := Decode(fits.FITS, model.FormatArray, false)
	if err != nil {
		t.Fatalf("decode re-encoded FITS: %v", err)
	}
	if !arr.Pixels.Equal(*again.Pixels) {
		t.Fatal("FITS and array serializations disagree")
	}
}

func TestDecode_ScaledIntegers(t *testing.T) {
	samples := []int16{-2, 0, 7, 100}
	data := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.BigEndian.PutUint16(data[2*i:], uint16(v))
	}
	raw := stamptest.Encode(16, []int{2, 2}, map[string]string{
		"BSCALE": "0.5",
		"BZERO":  "10.0",
		"BLANK":  "100",
	}, data)

	st, err := Decode(raw, model.FormatArray, false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []float64{9, 10, 13.5}
	for i, w := range want {
		if st.Pixels.Data[i] != w {
			t.Fatalf("data[%d]=%v want %v", i, st.Pixels.Data[i], w)
		}
	}
	if !math.IsNaN(st.Pixels.Data[3]) {
		t.Fatalf("BLANK sample should decode to NaN, got %v", st.Pixels.Data[3])
	}
}

func TestDecode_CorruptInputs(t *testing.T) {
	img := stamptest.Ramp(4, 4, 0)
	cases := []struct {
		name       string
		raw        []byte
		compressed bool
	}{
		{"empty", nil, false},
		{"not gzip", img.FITS(), true},
		{"truncated gzip", img.Gzipped()[:20], true},
		{"not fits", []byte("definitely not a FITS file, just some bytes"), false},
		{"gzip of garbage", stamptest.Gzip([]byte("garbage")), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.raw, model.FormatArray, tc.compressed)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, apperr.CorruptData(nil, "")) {
				t.Fatalf("kind=%s want CorruptData (%v)", apperr.KindOf(err), err)
			}
		})
	}
}

func TestDecode_ImagelessPrimaryIsCorruptInBothFormats(t *testing.T) {
	cases := map[string][]byte{
		"no axes":   stamptest.Encode(8, nil, nil, nil),
		"zero axis": stamptest.Encode(16, []int{0, 4}, nil, nil),
	}
	for name, raw := range cases {
		for _, format := range []model.ReturnFormat{model.FormatArray, model.FormatFITS} {
			_, err := Decode(raw, format, false)
			if !errors.Is(err, apperr.CorruptData(nil, "")) {
				t.Fatalf("%s/%s: got %v want CorruptData", name, format, err)
			}
		}
	}
}

func TestPixels_MarshalJSON_NestedAndNull(t *testing.T) {
	px := Pixels{Shape: []int{2, 3}, Data: []float64{1, 2.5, math.NaN(), -4, 1e-7, 0}}
	b, err := json.Marshal(px)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(b), `[[1,2.5,null],[-4,1e-7,0]]`; got != want {
		t.Fatalf("json=%s want %s", got, want)
	}

	var back [][]*float64
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("output must be valid JSON: %v", err)
	}
	if len(back) != 2 || len(back[0]) != 3 || back[0][2] != nil {
		t.Fatalf("unexpected decoded shape: %v", back)
	}
}
