package nodepool

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// NodeStatus describes one pooled node.
type NodeStatus struct {
	ID        string   `json:"id"`
	Address   string   `json:"address"`
	Transport string   `json:"transport"`
	State     string   `json:"state"`
	Selected  bool     `json:"selected"`
	AverageMs *float64 `json:"average_ms,omitempty"`
	Failures  int      `json:"failures"`
}

// Status is a point in time report of the pool and the selection.
type Status struct {
	Selected   string       `json:"selected,omitempty"`
	SelectedAt *time.Time   `json:"selected_at,omitempty"`
	Nodes      []NodeStatus `json:"nodes"`
}

// NewStatus assembles a report from a pool snapshot, the current selection
// and the samples of the last cycle.
func NewStatus(pool *Pool, current fn.Option[*Selection],
	samples []HealthSample) *Status {

	byID := make(map[string]HealthSample, len(samples))
	for _, sample := range samples {
		byID[sample.ID] = sample
	}

	status := &Status{
		Nodes: make([]NodeStatus, 0, pool.Len()),
	}

	var selectedID string
	current.WhenSome(func(sel *Selection) {
		selectedID = sel.ID
		selectedAt := sel.SelectedAt

		status.Selected = sel.ID
		status.SelectedAt = &selectedAt
	})

	for _, conn := range pool.Conns() {
		addr := conn.Addr()
		node := NodeStatus{
			ID:        addr.ID(),
			Address:   addr.String(),
			Transport: string(addr.Transport),
			State:     conn.State().String(),
			Selected:  addr.ID() == selectedID,
		}

		if sample, ok := byID[addr.ID()]; ok {
			avg := float64(sample.Average) / float64(time.Millisecond)
			node.AverageMs = &avg
			node.Failures = sample.Failures
		}

		status.Nodes = append(status.Nodes, node)
	}

	return status
}
