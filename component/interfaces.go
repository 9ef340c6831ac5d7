package component

import "context"

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
)

// Health holds health information for a component.
type Health struct {
	Name    string         `json:"name"`
	Status  HealthStatus   `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Component is a lifecycle-managed part of the application.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	// Stop must return once in-flight work has finished or ctx is done.
	Stop(ctx context.Context) error
	Health(ctx context.Context) Health
}

// Description is a one-line summary shown at startup.
type Description struct {
	Name    string
	Type    string // "registrar", "resolver", "configsource", "server", "store"
	Details string
	Port    int
}

// Describable is optionally implemented by Components for the startup summary.
type Describable interface {
	Describe() Description
}

// Overall folds component healths into one status: unhealthy wins over
// degraded, degraded over healthy.
func Overall(healths []Health) HealthStatus {
	status := StatusHealthy
	for _, h := range healths {
		switch h.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
