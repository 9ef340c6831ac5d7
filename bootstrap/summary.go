package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/logger"
)

// InfrastructureInfo is one line of the infrastructure section.
type InfrastructureInfo struct {
	Name    string
	Type    string // "registrar", "resolver", "configsource", "server", "store"
	Details string
	Port    int
}

// RouteInfo represents a registered HTTP route.
type RouteInfo struct {
	Method  string
	Path    string
	Handler string
}

// Summary tracks and displays the startup of a daemon.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	infrastructure  []InfrastructureInfo
	routes          []RouteInfo
	out             io.Writer
}

// NewSummary creates a new startup summary writing to stdout.
func NewSummary(serviceName, version string) *Summary {
	return &Summary{
		serviceName: serviceName,
		version:     version,
		out:         os.Stdout,
	}
}

// SetOutput redirects the summary.
func (s *Summary) SetOutput(w io.Writer) {
	s.out = w
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// TrackInfrastructure adds an infrastructure line.
func (s *Summary) TrackInfrastructure(name, componentType, details string, port int) {
	s.infrastructure = append(s.infrastructure, InfrastructureInfo{
		Name:    name,
		Type:    componentType,
		Details: details,
		Port:    port,
	})
}

// TrackRoute records an HTTP route.
func (s *Summary) TrackRoute(method, path, handler string) {
	s.routes = append(s.routes, RouteInfo{
		Method:  method,
		Path:    path,
		Handler: handler,
	})
}

// Infrastructure returns the tracked infrastructure lines.
func (s *Summary) Infrastructure() []InfrastructureInfo {
	return append([]InfrastructureInfo(nil), s.infrastructure...)
}

// Routes returns the tracked routes.
func (s *Summary) Routes() []RouteInfo {
	return append([]RouteInfo(nil), s.routes...)
}

// collect adds a line for every Describable component not tracked yet.
func (s *Summary) collect(registry *component.Registry) {
	seen := make(map[string]bool, len(s.infrastructure))
	for _, inf := range s.infrastructure {
		seen[inf.Name] = true
	}
	for _, c := range registry.All() {
		d, ok := c.(component.Describable)
		if !ok {
			continue
		}
		desc := d.Describe()
		if seen[desc.Name] {
			continue
		}
		seen[desc.Name] = true
		s.TrackInfrastructure(desc.Name, desc.Type, desc.Details, desc.Port)
	}
}

// DisplaySummary prints the summary including live health from the registry.
// log receives one structured line so the summary also reaches log sinks.
func (s *Summary) DisplaySummary(registry *component.Registry, log *logger.Logger) {
	var healths []component.Health
	if registry != nil {
		s.collect(registry)
		healths = registry.HealthAll(context.Background())
	}

	w := s.out
	fmt.Fprintf(w, "\n%s v%s started in %.2fs\n\n", s.serviceName, s.version, s.startupDuration.Seconds())

	if len(s.infrastructure) > 0 {
		fmt.Fprintf(w, "Infrastructure\n")
		for i, inf := range s.infrastructure {
			details := inf.Details
			if inf.Port > 0 && !strings.HasSuffix(details, fmt.Sprintf(":%d", inf.Port)) {
				details = fmt.Sprintf("%s (:%d)", details, inf.Port)
			}
			fmt.Fprintf(w, "   %s [%s] %s: %s\n", treePrefix(i, len(s.infrastructure)), inf.Type, inf.Name, details)
		}
		fmt.Fprintf(w, "\n")
	}

	if len(s.routes) > 0 {
		fmt.Fprintf(w, "Routes (%d)\n", len(s.routes))
		for i, r := range s.routes {
			fmt.Fprintf(w, "   %s %-7s %s -> %s\n", treePrefix(i, len(s.routes)), r.Method, r.Path, r.Handler)
		}
		fmt.Fprintf(w, "\n")
	}

	if len(healths) > 0 {
		fmt.Fprintf(w, "Health\n")
		for i, h := range healths {
			msg := ""
			if h.Message != "" {
				msg = " (" + h.Message + ")"
			}
			fmt.Fprintf(w, "   %s %s %s: %s%s\n", treePrefix(i, len(healths)), healthStatusIcon(h.Status), h.Name, h.Status, msg)
		}
		fmt.Fprintf(w, "\n")
	} else if len(s.infrastructure) == 0 {
		fmt.Fprintf(w, "   └── No components registered\n\n")
	}

	if log != nil {
		log.Info("Startup summary", map[string]interface{}{
			"components":         len(healths),
			"routes":             len(s.routes),
			"health":             string(component.Overall(healths)),
			logger.FieldDuration: s.startupDuration.Milliseconds(),
		})
	}
}

func treePrefix(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}

func healthStatusIcon(status component.HealthStatus) string {
	switch status {
	case component.StatusHealthy:
		return "✅"
	case component.StatusDegraded:
		return "⚠️"
	case component.StatusUnhealthy:
		return "❌"
	default:
		return "❓"
	}
}
