// Package model defines core domain types shared across the service.
package model

import (
	"strconv"
	"strings"
)

type SchemaKind string

const (
	SchemaZTF  SchemaKind = "ztf"
	SchemaLSST SchemaKind = "lsst"
)

func ParseSchemaKind(s string) (SchemaKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ztf":
		return SchemaZTF, true
	case "lsst":
		return SchemaLSST, true
	}
	return "", false
}

type StampKind string

const (
	StampScience    StampKind = "Science"
	StampTemplate   StampKind = "Template"
	StampDifference StampKind = "Difference"
	StampAll        StampKind = "All"
)

// order matters: All expands to this sequence
var SingleStampKinds = []StampKind{StampScience, StampTemplate, StampDifference}

func (k StampKind) Valid() bool {
	switch k {
	case StampScience, StampTemplate, StampDifference, StampAll:
		return true
	}
	return false
}

// Column is the storage column carrying this stamp, e.g. cutoutScience.
func (k StampKind) Column() string {
	return "cutout" + string(k)
}

type ReturnFormat string

const (
	FormatArray ReturnFormat = "array"
	FormatFITS  ReturnFormat = "FITS"
)

// ParseReturnFormat accepts "array" and "FITS" in any case; empty means array.
func ParseReturnFormat(s string) (ReturnFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "array":
		return FormatArray, true
	case "fits":
		return FormatFITS, true
	}
	return "", false
}

type CutoutRequest struct {
	StoragePath string
	Schema      SchemaKind
	ObjectID    string
	SourceID    int64
	HasSourceID bool
	Candid      *int64
	Kind        StampKind
	Format      ReturnFormat
}

// Identifier is the primary key as it appears in filenames and logs.
func (r CutoutRequest) Identifier() string {
	if r.Schema == SchemaLSST {
		return strconv.FormatInt(r.SourceID, 10)
	}
	return r.ObjectID
}

type ArgSpec struct {
	Name        string `json:"name"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}
