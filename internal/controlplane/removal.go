package controlplane

import (
	"sort"

	"github.com/opensandbox/batchfleet/internal/batch"
)

// removalRank orders nodes for scale-down: lower ranks are removed first.
// Nodes that have invested the least startup work go first; states outside
// the ranked set go last.
func removalRank(state batch.NodeState) int {
	switch state {
	case batch.NodeCreating:
		return 0
	case batch.NodeRebooting:
		return 1
	case batch.NodeStarting:
		return 2
	case batch.NodeWaitingForStartTask:
		return 3
	case batch.NodeIdle:
		return 4
	case batch.NodeRunning:
		return 5
	default:
		return 6
	}
}

// orderForRemoval returns a copy of nodes sorted by removal rank. Ties keep
// listing order.
func orderForRemoval(nodes []batch.ComputeNode) []batch.ComputeNode {
	ordered := make([]batch.ComputeNode, len(nodes))
	copy(ordered, nodes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return removalRank(ordered[i].State) < removalRank(ordered[j].State)
	})
	return ordered
}

// selectForRemoval picks the IDs of the count most disposable nodes.
func selectForRemoval(nodes []batch.ComputeNode, count int) []string {
	if count <= 0 {
		return nil
	}
	ordered := orderForRemoval(nodes)
	if count > len(ordered) {
		count = len(ordered)
	}
	ids := make([]string, 0, count)
	for _, n := range ordered[:count] {
		ids = append(ids, n.ID)
	}
	return ids
}
