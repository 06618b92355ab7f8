package router

import (
	"fmt"
	"sort"
)

// ringNode is one virtual node on the hash ring.
type ringNode struct {
	hash        uint32
	workerID    string
	virtualIdx  int
}

// ring is a sorted slice of virtual nodes, searched with binary search.
type ring struct {
	nodes []ringNode
}

func buildRing(workers []string, virtualNodes int) *ring {
	nodes := make([]ringNode, 0, len(workers)*virtualNodes)
	for _, w := range workers {
		for i := 0; i < virtualNodes; i++ {
			key := fmt.Sprintf("%s:%d", w, i)
			nodes = append(nodes, ringNode{hash: hashKey(key), workerID: w, virtualIdx: i})
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].hash < nodes[j].hash })
	return &ring{nodes: nodes}
}

// lookup finds the first node whose hash is >= target, wrapping to the
// first (lowest-hash) node if none qualifies. O(log n) via sort.Search.
func (r *ring) lookup(target uint32) (ringNode, bool) {
	if len(r.nodes) == 0 {
		return ringNode{}, false
	}
	idx := sort.Search(len(r.nodes), func(i int) bool { return r.nodes[i].hash >= target })
	if idx == len(r.nodes) {
		idx = 0
	}
	return r.nodes[idx], true
}
