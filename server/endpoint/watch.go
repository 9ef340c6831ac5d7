package endpoint

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/discoverykit/discovery"
	apperrors "github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/sse"
)

// MembershipWatcher streams membership changes of a service.
type MembershipWatcher interface {
	Resolve(ctx context.Context, service string) []discovery.ServiceInstance
	Subscribe(service string) (<-chan []discovery.ServiceInstance, func())
	Watch(service string)
	Admits(service string) bool
}

// Watch streams the instances of the service in the path as Server-Sent
// Events: a snapshot event on connect, then an update event per membership
// change. The stream ends with a closed event when the resolver stops.
func Watch(w MembershipWatcher, keepAlive time.Duration, log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		service := c.Param("name")
		ctx := c.Request.Context()
		if !w.Admits(service) {
			RespondWithError(c, apperrors.NotFound("service", service))
			return
		}

		updates, cancel := w.Subscribe(service)
		defer cancel()
		w.Watch(service)

		instances := w.Resolve(ctx, service)
		// the first refresh also publishes; fold it into the snapshot
		select {
		case latest, ok := <-updates:
			if ok {
				instances = latest
			}
		default:
		}
		if instances == nil {
			instances = []discovery.ServiceInstance{}
		}

		stream, err := sse.Open(c.Writer, log)
		if err != nil {
			return
		}
		if err := stream.Send(sse.Event{Name: sse.EventSnapshot, Data: instances}); err != nil {
			return
		}
		if err := sse.Pump(ctx, stream, sse.EventUpdate, updates, keepAlive); err != nil {
			log.Debug("watch stream ended", logger.Fields(logger.FieldTarget, service, logger.FieldError, err.Error()))
		}
	}
}
