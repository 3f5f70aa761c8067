package monitor

import (
	"sync"
	"time"
)

// Status is a component health level.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// Check probes one component.
type Check func() (Status, string)

// ComponentHealth is one component's latest result.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report is the rolled-up health view.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Time       time.Time                  `json:"time"`
}

// Health aggregates component checks. The overall status is the worst
// component status: any unhealthy component makes the system unhealthy,
// any degraded one makes it degraded.
type Health struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewHealth creates an empty health registry.
func NewHealth() *Health {
	return &Health{checks: make(map[string]Check)}
}

// Register adds a named component check.
func (h *Health) Register(name string, c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = c
}

// Run executes all checks and rolls up the result.
func (h *Health) Run() Report {
	h.mu.RLock()
	checks := make(map[string]Check, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	report := Report{
		Status:     Healthy,
		Components: make(map[string]ComponentHealth, len(checks)),
		Time:       time.Now(),
	}
	for name, c := range checks {
		status, msg := c()
		report.Components[name] = ComponentHealth{Status: status, Message: msg}
		if worse(status, report.Status) {
			report.Status = status
		}
	}
	return report
}

func worse(a, b Status) bool {
	return rank(a) > rank(b)
}

func rank(s Status) int {
	switch s {
	case Unhealthy:
		return 2
	case Degraded:
		return 1
	default:
		return 0
	}
}
