package roadflow

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

/* Nodes stuff */

type NodeID int

type Node struct {
	incomingLinks   []LinkID
	outcomingLinks  []LinkID
	roadConnections []RoadConnectionID
	ID              NodeID
	osmNodeID       osm.NodeID
	controlType     ControlType
	geom            orb.Point
}

type ControlType uint16

const (
	NOT_SIGNAL = ControlType(iota + 1)
	IS_SIGNAL
)

func (iotaIdx ControlType) String() string {
	if iotaIdx == IS_SIGNAL {
		return "signal"
	}
	return "common"
}

func newNode(id NodeID) *Node {
	return &Node{
		incomingLinks:   make([]LinkID, 0),
		outcomingLinks:  make([]LinkID, 0),
		roadConnections: make([]RoadConnectionID, 0),
		ID:              id,
		controlType:     NOT_SIGNAL,
	}
}

// IsSource returns true when no link enters the node
func (node *Node) IsSource() bool {
	return len(node.incomingLinks) == 0
}

// IsSink returns true when no link leaves the node
func (node *Node) IsSink() bool {
	return len(node.outcomingLinks) == 0
}

// IsManyToOne returns true when exactly one link leaves the node
func (node *Node) IsManyToOne() bool {
	return len(node.outcomingLinks) == 1
}

func (node *Node) IncomingLinks() []LinkID {
	return node.incomingLinks
}

func (node *Node) OutcomingLinks() []LinkID {
	return node.outcomingLinks
}

func (node *Node) RoadConnections() []RoadConnectionID {
	return node.roadConnections
}

func (node *Node) OSMNodeID() osm.NodeID {
	return node.osmNodeID
}

func (node *Node) Geom() orb.Point {
	return node.geom
}

func (node *Node) ControlType() ControlType {
	return node.controlType
}
