// Package depgraph implements the capability dependency graph and its
// topologically ordered disclosure plan (spec §4.I).
package depgraph

import (
	"context"
	"sort"

	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// GraphSource answers the two questions the resolver needs to walk the
// capability graph: what a skill requires, and who provides a capability.
// Implementations are typically backed by index.Store's
// RequiresOf/ProvidersOf.
type GraphSource interface {
	Requires(ctx context.Context, skillID string) ([]string, error)
	ProvidersOf(ctx context.Context, capability string) ([]string, error)
}

// Resolver computes dependency-ordered disclosure plans over a capability
// graph.
type Resolver struct {
	source GraphSource
}

// New builds a Resolver over source.
func New(source GraphSource) *Resolver {
	return &Resolver{source: source}
}

// Plan returns a deterministic, dependency-ordered plan for rootID at the
// requested level and mode.
func (r *Resolver) Plan(ctx context.Context, rootID string, level skill.DisclosureLevel, mode skill.DependencyMode) (skill.DependencyPlan, error) {
	if mode == skill.DepModeOff {
		return skill.DependencyPlan{Nodes: []skill.DependencyPlanNode{{SkillID: rootID, Level: level}}}, nil
	}

	depends, missing, err := r.bfsClosure(ctx, rootID)
	if err != nil {
		return skill.DependencyPlan{}, err
	}

	cycles := detectCycles(depends, rootID)
	order := topoSort(depends, rootID)

	depLevel := skill.LevelOverview
	if mode == skill.DepModeFull {
		depLevel = skill.LevelFull
	}

	nodes := make([]skill.DependencyPlanNode, 0, len(order))
	for _, id := range order {
		if id == rootID {
			nodes = append(nodes, skill.DependencyPlanNode{SkillID: id, Level: level})
			continue
		}
		nodes = append(nodes, skill.DependencyPlanNode{SkillID: id, Level: depLevel})
	}

	return skill.DependencyPlan{Nodes: nodes, MissingCapabilities: missing, Cycles: cycles}, nil
}

// bfsClosure walks requires->providers from root, returning an adjacency
// map (skill id -> sorted list of skill ids it depends on) and the list of
// capabilities that had no provider.
func (r *Resolver) bfsClosure(ctx context.Context, rootID string) (map[string][]string, []string, error) {
	depends := map[string][]string{}
	visited := map[string]bool{rootID: true}
	var missing []string
	queue := []string{rootID}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		caps, err := r.source.Requires(ctx, cur)
		if err != nil {
			return nil, nil, err
		}
		sortedCaps := append([]string(nil), caps...)
		sort.Strings(sortedCaps)

		for _, cap := range sortedCaps {
			providers, err := r.source.ProvidersOf(ctx, cap)
			if err != nil {
				return nil, nil, err
			}
			if len(providers) == 0 {
				missing = append(missing, cap)
				continue
			}
			sortedProviders := append([]string(nil), providers...)
			sort.Strings(sortedProviders)

			for _, p := range sortedProviders {
				if !contains(depends[cur], p) {
					depends[cur] = append(depends[cur], p)
				}
				if !visited[p] {
					visited[p] = true
					queue = append(queue, p)
				}
			}
		}
	}
	return depends, missing, nil
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// detectCycles finds every distinct cycle reachable from root via DFS
// back-edges over the depends (node -> dependency) graph. Detection is
// non-fatal; callers report the cycles and proceed.
func detectCycles(depends map[string][]string, root string) [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var stack []string
	var cycles [][]string

	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		stack = append(stack, node)

		deps := append([]string(nil), depends[node]...)
		sort.Strings(deps)
		for _, d := range deps {
			switch color[d] {
			case white:
				visit(d)
			case gray:
				cycles = append(cycles, extractCycle(stack, d))
			}
		}

		stack = stack[:len(stack)-1]
		color[node] = black
	}

	visit(root)
	return cycles
}

func extractCycle(stack []string, repeated string) []string {
	for i, s := range stack {
		if s == repeated {
			cycle := append([]string(nil), stack[i:]...)
			return append(cycle, repeated)
		}
	}
	return []string{repeated}
}

// topoSort runs Kahn's algorithm over the depends (node -> dependency)
// graph rooted at root, so that dependencies precede dependents, breaking
// ties lexicographically on skill id. Any nodes left over due to a cycle
// are appended, sorted, so the plan still returns deterministically.
func topoSort(depends map[string][]string, root string) []string {
	nodes := map[string]bool{root: true}
	for node, deps := range depends {
		nodes[node] = true
		for _, d := range deps {
			nodes[d] = true
		}
	}

	// forward edges: dependency -> dependent, for Kahn's in-degree walk.
	forward := map[string][]string{}
	inDegree := map[string]int{}
	for n := range nodes {
		inDegree[n] = 0
	}
	for node, deps := range depends {
		for _, d := range deps {
			forward[d] = append(forward[d], node)
			inDegree[node]++
		}
	}
	for _, adj := range forward {
		sort.Strings(adj)
	}

	var order []string
	available := make([]string, 0, len(nodes))
	for n, deg := range inDegree {
		if deg == 0 {
			available = append(available, n)
		}
	}
	sort.Strings(available)

	for len(available) > 0 {
		sort.Strings(available)
		next := available[0]
		available = available[1:]
		order = append(order, next)

		for _, dependent := range forward[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				available = append(available, dependent)
			}
		}
	}

	if len(order) < len(nodes) {
		seen := map[string]bool{}
		for _, n := range order {
			seen[n] = true
		}
		var remainder []string
		for n := range nodes {
			if !seen[n] {
				remainder = append(remainder, n)
			}
		}
		sort.Strings(remainder)
		order = append(order, remainder...)
	}

	return order
}
