package observability

// HealthStatus represents the health of a run or of one process in it.
type HealthStatus string

const (
	HealthStatusUp       HealthStatus = "up"
	HealthStatusDown     HealthStatus = "down"
	HealthStatusDegraded HealthStatus = "degraded"
)

// Health describes one process.
type Health struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	State   string            `json:"state,omitempty"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// RunHealth describes a pipeline run and its processes.
type RunHealth struct {
	Pipeline  string       `json:"pipeline"`
	RunID     string       `json:"run_id,omitempty"`
	Status    HealthStatus `json:"status"`
	Version   string       `json:"version,omitempty"`
	Processes []Health     `json:"processes,omitempty"`
}

// NewRunHealth creates a RunHealth with status up.
func NewRunHealth(pipeline, runID, version string) *RunHealth {
	return &RunHealth{
		Pipeline: pipeline,
		RunID:    runID,
		Status:   HealthStatusUp,
		Version:  version,
	}
}

// AddProcess adds a process result and lowers the run status if needed.
func (h *RunHealth) AddProcess(ph Health) {
	h.Processes = append(h.Processes, ph)

	switch ph.Status {
	case HealthStatusDown:
		h.Status = HealthStatusDown
	case HealthStatusDegraded:
		if h.Status != HealthStatusDown {
			h.Status = HealthStatusDegraded
		}
	}
}

// ProcessHealth maps a process state and its failure, if any, to a health
// entry. A failed process is down; a quiescent one, stepping without
// output, is degraded.
func ProcessHealth(name, state string, quiescent bool, err error) Health {
	h := Health{Name: name, Status: HealthStatusUp, State: state}
	switch {
	case err != nil:
		h.Status = HealthStatusDown
		h.Message = err.Error()
	case quiescent && state == "running":
		h.Status = HealthStatusDegraded
		h.Message = "last step produced no data"
	}
	return h
}
