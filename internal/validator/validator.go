// Package validator reports structural smells in journeys that Journey.Validate accepts.
package validator

import (
	"fmt"

	"github.com/aretw0/journeys/pkg/domain"
)

// Lint crawls j from its start node and returns one warning per node that
// can never be reached, and per reachable node from which no path ends the run.
// Successors that do not resolve are skipped; Journey.Validate reports those.
func Lint(j *domain.Journey) []string {
	byID := make(map[string]domain.Node, len(j.Nodes))
	for _, n := range j.Nodes {
		if n != nil {
			byID[n.NodeID()] = n
		}
	}

	reachable := make(map[string]bool)
	queue := []string{j.StartNodeID}
	for len(queue) > 0 {
		currentID := queue[0]
		queue = queue[1:]
		if reachable[currentID] {
			continue
		}
		n, ok := byID[currentID]
		if !ok {
			continue
		}
		reachable[currentID] = true
		for _, next := range n.Successors() {
			if !reachable[next] {
				queue = append(queue, next)
			}
		}
	}

	ends := canEnd(j.Nodes, byID)

	var warnings []string
	for _, n := range j.Nodes {
		if n == nil {
			continue
		}
		id := n.NodeID()
		switch {
		case !reachable[id]:
			warnings = append(warnings, fmt.Sprintf("node %q is unreachable from %q", id, j.StartNodeID))
		case !ends[id]:
			warnings = append(warnings, fmt.Sprintf("node %q never reaches the end of the journey", id))
		}
	}
	return warnings
}

// canEnd marks every node with a path to an empty successor,
// walking predecessors back from the nodes that end a run.
func canEnd(nodes []domain.Node, byID map[string]domain.Node) map[string]bool {
	preds := make(map[string][]string)
	ends := make(map[string]bool)
	var queue []string
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if isExit(n) {
			queue = append(queue, n.NodeID())
		}
		for _, next := range n.Successors() {
			preds[next] = append(preds[next], n.NodeID())
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if ends[id] {
			continue
		}
		ends[id] = true
		for _, p := range preds[id] {
			if _, ok := byID[p]; ok && !ends[p] {
				queue = append(queue, p)
			}
		}
	}
	return ends
}

// isExit reports whether some outcome of n ends the run.
func isExit(n domain.Node) bool {
	switch v := n.(type) {
	case *domain.ConditionalNode:
		return v.OnTrue == "" || v.OnFalse == ""
	default:
		return len(n.Successors()) == 0
	}
}
