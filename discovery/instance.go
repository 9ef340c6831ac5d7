package discovery

import (
	"maps"
	"net"
	"strconv"
	"strings"
)

// Status is the registry-reported health of an instance.
type Status string

const (
	StatusUp           Status = "UP"
	StatusDown         Status = "DOWN"
	StatusStarting     Status = "STARTING"
	StatusOutOfService Status = "OUT_OF_SERVICE"
	StatusUnknown      Status = "UNKNOWN"
)

// ParseStatus maps a registry status string to a Status, ignoring case.
// Unrecognized values become StatusUnknown.
func ParseStatus(s string) Status {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusUp, StatusDown, StatusStarting, StatusOutOfService:
		return st
	}
	return StatusUnknown
}

// ServiceInstance is one discovered endpoint of a named service.
//
// Instances are values; a slice returned by the Resolver is a snapshot and is
// never modified after it is published.
type ServiceInstance struct {
	ID          string            `json:"id"`
	ServiceName string            `json:"service_name"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	Secure      bool              `json:"secure"`
	Status      Status            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Zone        string            `json:"zone,omitempty"`
}

// Address returns host:port.
func (i ServiceInstance) Address() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// URL returns the base URL of the instance.
func (i ServiceInstance) URL() string {
	scheme := "http"
	if i.Secure {
		scheme = "https"
	}
	return scheme + "://" + i.Address()
}

// Weight reads the "weight" metadata entry, defaulting to 1.
func (i ServiceInstance) Weight() int {
	w, err := strconv.Atoi(i.Metadata[MetadataWeight])
	if err != nil || w <= 0 {
		return 1
	}
	return w
}

// Clone returns a copy that shares no maps with i.
func (i ServiceInstance) Clone() ServiceInstance {
	i.Metadata = maps.Clone(i.Metadata)
	return i
}

// Well-known metadata keys.
const (
	MetadataWeight = "weight"
	MetadataZone   = "zone"
)

// cloneInstances deep-copies a sequence so the result can be published.
func cloneInstances(in []ServiceInstance) []ServiceInstance {
	if in == nil {
		return nil
	}
	out := make([]ServiceInstance, len(in))
	for idx, inst := range in {
		out[idx] = inst.Clone()
	}
	return out
}
