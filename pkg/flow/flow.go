// Package flow orchestrates agents above the single-agent loop. A flow owns a
// keyed set of agents and drives them against a shared objective.
package flow

import (
	"context"
	"fmt"
	"sort"

	"github.com/reagent-dev/reagent/pkg/agent"
)

// Flow executes a task across one or more agents and returns a readable
// transcript of the outcome.
type Flow interface {
	Execute(ctx context.Context, input string) string
}

// agentSet is the keyed agent collection shared by flow kinds.
type agentSet struct {
	agents     map[string]agent.Agent
	primaryKey string
}

func newAgentSet(agents map[string]agent.Agent, primaryKey string) (agentSet, error) {
	if len(agents) == 0 {
		return agentSet{}, fmt.Errorf("flow: at least one agent is required")
	}
	if primaryKey == "" {
		keys := make([]string, 0, len(agents))
		for key := range agents {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		primaryKey = keys[0]
	}
	if _, ok := agents[primaryKey]; !ok {
		return agentSet{}, fmt.Errorf("flow: primary agent %q not found", primaryKey)
	}
	return agentSet{agents: agents, primaryKey: primaryKey}, nil
}

func (s agentSet) primary() agent.Agent { return s.agents[s.primaryKey] }

// executor returns the agent registered under key, falling back to the
// primary agent.
func (s agentSet) executor(key string) agent.Agent {
	if key != "" {
		if a, ok := s.agents[key]; ok {
			return a
		}
	}
	return s.primary()
}

// sortedKeys returns the agent keys in deterministic order.
func (s agentSet) sortedKeys() []string {
	keys := make([]string, 0, len(s.agents))
	for key := range s.agents {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
