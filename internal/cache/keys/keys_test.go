package keys

import (
	"regexp"
	"strings"
	"testing"
	"unicode"
)

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	k1 := StampKey("ztf", "/user/julien/ztf/", "ZTF24abssjsb", nil, "cutoutScience")
	k2 := StampKey("ztf", "/user/julien/ztf", "ZTF24abssjsb", nil, "cutoutScience")
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
	if !regexp.MustCompile(`^cutout:ztf:[0-9a-f]{16}:ZTF24abssjsb:cutoutScience$`).MatchString(k1) {
		t.Fatalf("unexpected key layout: %s", k1)
	}
}

func TestDifference_CandidSchemaAndColumn(t *testing.T) {
	c1, c2 := int64(1), int64(2)
	base := StampKey("ztf", "/p", "ZTF1", nil, "cutoutScience")
	for _, k := range []string{
		StampKey("ztf", "/p", "ZTF1", &c1, "cutoutScience"),
		StampKey("ztf", "/p", "ZTF1", &c2, "cutoutScience"),
		StampKey("lsst", "/p", "ZTF1", nil, "cutoutScience"),
		StampKey("ztf", "/p", "ZTF1", nil, "cutoutTemplate"),
		StampKey("ztf", "/q", "ZTF1", nil, "cutoutScience"),
	} {
		if k == base {
			t.Fatalf("expected %s to differ from %s", k, base)
		}
	}
}

func TestPrefix_CoversStampKeys(t *testing.T) {
	k := StampKey("lsst", "s3://alerts/lsst/2025", "170032915988267030", nil, "cutoutDifference")
	if !strings.HasPrefix(k, PathPrefix("lsst", "s3://alerts/lsst/2025/")) {
		t.Fatalf("key %s does not start with its path prefix", k)
	}
}

func TestInvalidationPrefixes_IncludeAncestors(t *testing.T) {
	dirKey := StampKey("ztf", "hdfs://nn:8020/ztf/2024", "ZTF1", nil, "cutoutScience")
	got := InvalidationPrefixes([]string{"ztf", "lsst"}, "hdfs://nn:8020/ztf/2024/part-0.parquet")
	if len(got) != 8 {
		t.Fatalf("got %d prefixes want 8: %v", len(got), got)
	}
	found := false
	for _, p := range got {
		if strings.HasPrefix(dirKey, p) {
			found = true
		}
	}
	if !found {
		t.Fatalf("no prefix covers ancestor key %s", dirKey)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/a/b/":                "/a/b",
		"a//b/./c":             "/a/b/c",
		"hdfs://nn:8020":       "hdfs://nn:8020/",
		"hdfs://nn:8020/x/../": "hdfs://nn:8020/",
		"s3://bucket/k/":       "s3://bucket/k",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Fatalf("NormalizePath(%q) got %q want %q", in, got, want)
		}
	}
}

func TestUnicodeSafety_NoGlobOrNonASCII(t *testing.T) {
	k := StampKey("ztf", "/p", "Göteborg*[x]?", nil, "cutoutScience")
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if strings.ContainsAny(k, `*?[]\`) {
		t.Fatalf("glob metacharacter leaked into key: %s", k)
	}
}
