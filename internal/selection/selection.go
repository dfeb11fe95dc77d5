// Package selection decides which registered agents are eligible for a task
// and in what order they should be preferred. A Chain applies its filters
// first, then its ordering, and returns agent ids only.
package selection

import (
	"sort"

	"github.com/rivenhq/riven/internal/roster"
)

// Candidate is an agent under consideration for one task.
type Candidate struct {
	Agent    *roster.Agent
	TaskType string
	TenantID string
	NowMs    int64
}

// FilterFunc reports whether a candidate stays in the running.
type FilterFunc func(c Candidate) bool

// And combines filters; every filter must pass.
func And(filters ...FilterFunc) FilterFunc {
	return func(c Candidate) bool {
		for _, f := range filters {
			if !f(c) {
				return false
			}
		}
		return true
	}
}

// OrderFunc ranks the surviving candidates in place.
type OrderFunc func(agents []*roster.Agent)

// CapacityFilter drops agents that are at or above their declared capacity,
// or that do not support the task type. Capacity 0 admits nothing; a negative
// capacity means unlimited.
func CapacityFilter() FilterFunc {
	return func(c Candidate) bool {
		if c.Agent.Capacity >= 0 && c.Agent.Assigned >= c.Agent.Capacity {
			return false
		}
		return c.Agent.Supports(c.TaskType)
	}
}

// LoadOrder prefers agents with fewer in-flight tasks. The sort is stable so
// equally loaded agents keep their store order and selection stays
// deterministic.
func LoadOrder() OrderFunc {
	return func(agents []*roster.Agent) {
		sort.SliceStable(agents, func(i, j int) bool {
			return agents[i].Assigned < agents[j].Assigned
		})
	}
}

// Chain is a filter pipeline plus a final ordering.
type Chain struct {
	filter FilterFunc
	order  OrderFunc
}

// NewChain builds a chain. A nil order leaves the filtered agents in store
// order.
func NewChain(order OrderFunc, filters ...FilterFunc) *Chain {
	return &Chain{filter: And(filters...), order: order}
}

// Select returns the ids of eligible agents, best first. The input slice is
// never mutated and the result is never nil.
func (ch *Chain) Select(agents []*roster.Agent, taskType, tenantID string, nowMs int64) []string {
	kept := make([]*roster.Agent, 0, len(agents))
	for _, a := range agents {
		if a == nil {
			continue
		}
		if ch.filter(Candidate{Agent: a, TaskType: taskType, TenantID: tenantID, NowMs: nowMs}) {
			kept = append(kept, a)
		}
	}
	if ch.order != nil {
		ch.order(kept)
	}
	ids := make([]string, 0, len(kept))
	for _, a := range kept {
		ids = append(ids, a.ID)
	}
	return ids
}
