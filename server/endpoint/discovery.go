package endpoint

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/discoverykit/discovery"
	apperrors "github.com/kbukum/discoverykit/errors"
)

// InstanceResolver is the part of *discovery.Resolver the endpoints use.
type InstanceResolver interface {
	Resolve(ctx context.Context, service string) []discovery.ServiceInstance
	ResolveOne(ctx context.Context, service string, strategy discovery.LoadBalancingStrategy) (discovery.ServiceInstance, error)
	Snapshot(service string) (discovery.Snapshot, bool)
	Services() []string
	Admits(service string) bool
}

// LeaseReporter exposes the local registration.
type LeaseReporter interface {
	Lease() discovery.LeaseState
	Descriptor() discovery.RegistrationDescriptor
}

// ServiceView is the JSON body of a resolved service.
type ServiceView struct {
	Service   string                      `json:"service"`
	Instances []discovery.ServiceInstance `json:"instances"`
	Freshness discovery.Freshness         `json:"freshness,omitempty"`
	Index     uint64                      `json:"index,omitempty"`
}

// Services lists the service names the resolver has cached.
func Services(r InstanceResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		RespondOK(c, r.Services())
	}
}

// Instances resolves the service named in the path. With ?strategy= one
// instance is picked by that load balancing strategy instead of returning
// the full membership. Names beyond the resolver's service limit get 404.
func Instances(r InstanceResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		service := c.Param("name")
		ctx := c.Request.Context()
		if !r.Admits(service) {
			RespondWithError(c, apperrors.NotFound("service", service))
			return
		}

		if strategy := c.Query("strategy"); strategy != "" {
			s, err := parseStrategy(strategy)
			if err != nil {
				RespondWithError(c, err)
				return
			}
			inst, err := r.ResolveOne(ctx, service, s)
			if err != nil {
				RespondWithError(c, err)
				return
			}
			RespondOK(c, inst)
			return
		}

		view := ServiceView{Service: service, Instances: r.Resolve(ctx, service)}
		if view.Instances == nil {
			view.Instances = []discovery.ServiceInstance{}
		}
		if snap, ok := r.Snapshot(service); ok {
			view.Freshness = snap.Freshness
			view.Index = snap.Index
		}
		RespondOK(c, view)
	}
}

func parseStrategy(s string) (discovery.LoadBalancingStrategy, error) {
	switch st := discovery.LoadBalancingStrategy(strings.ToLower(s)); st {
	case discovery.StrategyRandom, discovery.StrategyRoundRobin, discovery.StrategyWeighted:
		return st, nil
	}
	return "", apperrors.New(apperrors.ErrCodeRejected, "unknown load balancing strategy", http.StatusBadRequest).
		WithDetail("strategy", s)
}

// Lease reports the local registration state. It answers 404 when this
// process does not register itself.
func Lease(l LeaseReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			RespondWithError(c, apperrors.NotFound("registration", ""))
			return
		}
		desc := l.Descriptor()
		RespondOK(c, gin.H{
			"service": desc.ServiceName,
			"address": desc.Instance().Address(),
			"lease":   l.Lease(),
		})
	}
}
