package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// Generator issues client-side identifiers. Record ids are random UUIDs so
// devices never collide; queue sequence numbers come from a snowflake node
// so pending operations sort in write order.
type Generator struct {
	node *snowflake.Node
}

// New builds a generator for the given device node (0..1023).
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// Must panics when the generator cannot be created.
func Must(g *Generator, err error) *Generator {
	if err != nil {
		panic(err)
	}
	return g
}

// RecordID returns a fresh record identifier.
func (g *Generator) RecordID() string {
	return uuid.NewString()
}

// Sequence returns a monotonically increasing queue sequence number.
func (g *Generator) Sequence() int64 {
	return g.node.Generate().Int64()
}
