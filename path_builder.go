package roadflow

import (
	"math"

	"github.com/LdDl/ch"
	"github.com/pkg/errors"
)

// pathBuilder finds shortest link sequences on the graph whose vertices are
// links and whose edges join every link to its reachable downstream links.
type pathBuilder struct {
	graph ch.Graph
}

func newPathBuilder(net *Network) (*pathBuilder, error) {
	pb := &pathBuilder{graph: ch.Graph{}}
	for _, linkID := range net.linkIDs {
		err := pb.graph.CreateVertex(int64(linkID))
		if err != nil {
			return nil, errors.Wrap(err, "Can not create vertex")
		}
	}
	for _, linkID := range net.linkIDs {
		link := net.links[linkID]
		for _, outlinkID := range link.reachableOutlinks {
			// Cost of moving to the next link is its length
			cost := math.Max(net.links[outlinkID].lengthMeters, 1)
			err := pb.graph.AddEdge(int64(linkID), int64(outlinkID), cost)
			if err != nil {
				return nil, errors.Wrap(err, "Can not wrap Source and Target vertices as Edge")
			}
		}
	}
	pb.graph.PrepareContractionHierarchies()
	return pb, nil
}

// route returns links from the first to the last one inclusive
func (pb *pathBuilder) route(from, to LinkID) ([]LinkID, error) {
	if from == to {
		return []LinkID{from}, nil
	}
	cost, vertices := pb.graph.ShortestPath(int64(from), int64(to))
	if cost < 0 || len(vertices) == 0 {
		return nil, errors.Errorf("Link %d is not reachable from link %d", to, from)
	}
	links := make([]LinkID, len(vertices))
	for i, v := range vertices {
		links[i] = LinkID(v)
	}
	return links, nil
}
