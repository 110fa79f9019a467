// Package keys builds cache keys for stamp payloads.
//
// Layout: cutout:<schema>:<xxhash(path)>:<id>[:c=<candid>]:<column>. The
// storage path is hashed so that every key cached for one path shares a
// prefix that invalidation can delete.
package keys

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const namespace = "cutout"

func StampKey(schema, storagePath, id string, candid *int64, column string) string {
	var b strings.Builder
	b.WriteString(PathPrefix(schema, storagePath))
	b.WriteString(sanitizeForKey(strings.TrimSpace(id)))
	if candid != nil {
		b.WriteString(":c=")
		b.WriteString(strconv.FormatInt(*candid, 10))
	}
	b.WriteByte(':')
	b.WriteString(sanitizeForKey(column))
	return b.String()
}

// PathPrefix is the prefix shared by every key cached for storagePath.
func PathPrefix(schema, storagePath string) string {
	sum := xxhash.Sum64String(NormalizePath(storagePath))
	return fmt.Sprintf("%s:%s:%016x:", namespace, sanitizeForKey(strings.ToLower(schema)), sum)
}

// InvalidationPrefixes lists the prefixes to drop when storagePath changes:
// the path itself and each ancestor directory, since a request for a
// directory scans the files below it.
func InvalidationPrefixes(schemas []string, storagePath string) []string {
	paths := lineage(NormalizePath(storagePath))
	out := make([]string, 0, len(paths)*len(schemas))
	for _, s := range schemas {
		for _, p := range paths {
			out = append(out, PathPrefix(s, p))
		}
	}
	return out
}

// NormalizePath cleans the path component and keeps a scheme://authority
// prefix untouched, so "hdfs://nn:8020/a/b/" and "hdfs://nn:8020/a/b"
// hash alike.
func NormalizePath(p string) string {
	authority, rest := splitAuthority(strings.TrimSpace(p))
	if rest == "" {
		rest = "/"
	}
	return authority + path.Clean("/"+rest)
}

func splitAuthority(p string) (string, string) {
	i := strings.Index(p, "://")
	if i < 0 {
		return "", p
	}
	j := strings.IndexByte(p[i+3:], '/')
	if j < 0 {
		return p, ""
	}
	return p[:i+3+j], p[i+3+j:]
}

func lineage(normalized string) []string {
	authority, p := splitAuthority(normalized)
	out := []string{normalized}
	for p != "/" && p != "" {
		p = path.Dir(p)
		out = append(out, authority+p)
	}
	return out
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.' || r == '=':
			out = r
		default:
			// anything else (':', glob metacharacters, non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
