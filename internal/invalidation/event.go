// Package invalidation defines the events announcing that archive files were
// rewritten or removed.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

const (
	OpRewrite = "rewrite"
	OpDelete  = "delete"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Path    string    `json:"path"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpRewrite, OpDelete:
	default:
		return fmt.Errorf("op must be rewrite|delete")
	}
	if strings.TrimSpace(e.Path) == "" {
		return fmt.Errorf("path is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
