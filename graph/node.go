package graph

import (
	"github.com/jeromekelleher/mccortex/dna"
	"github.com/jeromekelleher/mccortex/hash"
)

// Node is a directed incarnation of an undirected kmer: a hash-table slot
// paired with the strand it's being read on, matching the original's dBNode.
type Node struct {
	Key     hash.HKey
	Orient  dna.Orientation
}

// NotFoundNode is the zero-value-safe "absent" node.
var NotFoundNode = Node{Key: hash.NotFound, Orient: dna.Forward}

// Found reports whether n refers to an assigned slot.
func (n Node) Found() bool { return n.Key != hash.NotFound }

// Flip returns n read from the opposite strand.
func (n Node) Flip() Node { return Node{Key: n.Key, Orient: n.Orient.Opposite()} }
