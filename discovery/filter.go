package discovery

import "slices"

// Filter narrows a snapshot. Filters must keep the relative order of the
// instances they return and must not modify the input.
type Filter func([]ServiceInstance) []ServiceInstance

// HealthFilter keeps instances whose status is one of statuses.
func HealthFilter(statuses ...Status) Filter {
	return func(in []ServiceInstance) []ServiceInstance {
		out := make([]ServiceInstance, 0, len(in))
		for _, inst := range in {
			if slices.Contains(statuses, inst.Status) {
				out = append(out, inst)
			}
		}
		return out
	}
}

// ZoneAffinity keeps instances in zone, or every instance when none is in it.
func ZoneAffinity(zone string) Filter {
	return func(in []ServiceInstance) []ServiceInstance {
		out := make([]ServiceInstance, 0, len(in))
		for _, inst := range in {
			if inst.Zone == zone {
				out = append(out, inst)
			}
		}
		if len(out) == 0 {
			return in
		}
		return out
	}
}

// MetadataFilter keeps instances carrying key=value in their metadata.
func MetadataFilter(key, value string) Filter {
	return func(in []ServiceInstance) []ServiceInstance {
		out := make([]ServiceInstance, 0, len(in))
		for _, inst := range in {
			if v, ok := inst.Metadata[key]; ok && v == value {
				out = append(out, inst)
			}
		}
		return out
	}
}

func applyFilters(in []ServiceInstance, filters []Filter) []ServiceInstance {
	out := in
	for _, f := range filters {
		out = f(out)
	}
	return out
}
