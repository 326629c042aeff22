package rollout

// Plan is the applied-strategy decision for one request.
type Plan struct {
	// RunGraph executes the graph-expansion path.
	RunGraph bool `json:"run_graph"`
	// BlendResult lets qualifying graph candidates into the response.
	BlendResult bool `json:"blend_result"`
}

// Shadow reports whether the graph path runs for measurement only.
func (p Plan) Shadow() bool {
	return p.RunGraph && !p.BlendResult
}

// Decide maps a requested strategy and the current mode to a plan.
// Requesting baseline never runs the graph, whatever the mode.
func Decide(requested Strategy, mode Mode) Plan {
	if requested != StrategyHybridGraph {
		return Plan{}
	}
	switch mode {
	case ModeShadow:
		return Plan{RunGraph: true}
	case ModeCanary:
		return Plan{RunGraph: true, BlendResult: true}
	default:
		return Plan{}
	}
}
