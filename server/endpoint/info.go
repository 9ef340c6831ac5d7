package endpoint

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// startTime records when the process started for uptime calculation.
var startTime = time.Now()

// ServiceInfo identifies the running service.
type ServiceInfo struct {
	Name        string `json:"service"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
	InstanceID  string `json:"instance_id,omitempty"`
}

// Info returns a handler that reports service identity and uptime.
// instanceID is called per request since the id is assigned on registration.
func Info(info ServiceInfo, instanceID func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := info
		if instanceID != nil {
			out.InstanceID = instanceID()
		}
		c.JSON(http.StatusOK, gin.H{
			"service":     out.Name,
			"version":     out.Version,
			"environment": out.Environment,
			"instance_id": out.InstanceID,
			"go_version":  runtime.Version(),
			"uptime":      time.Since(startTime).String(),
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
