// Package ids mints 64-bit song and user identifiers.
package ids

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Generator mints unique, roughly time-ordered IDs.
type Generator interface {
	Next() int64
}

// Snowflake is a Generator backed by a snowflake node. Safe for concurrent use.
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake creates a generator for the given node id (0-1023).
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: node}, nil
}

// Next returns a new ID.
func (s *Snowflake) Next() int64 {
	return s.node.Generate().Int64()
}

// Parse converts a textual ID. Only non-negative decimal integers are accepted.
func Parse(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
