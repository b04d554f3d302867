package release

import (
	"github.com/kwonjuyong/stagehand/internal/core/compose"
)

// =============================================================================
// Service Ordering Functions
// =============================================================================

// TopologicalSort sorts services by their dependencies using Kahn's
// algorithm. Services with no dependencies come first, so a db service
// starts before the backend that depends_on it.
//
// If a cycle exists (which should be caught at parse time), remaining
// services are appended to the result as a fallback.
func TopologicalSort(services []compose.Service) []compose.Service {
	if len(services) == 0 {
		return services
	}

	serviceMap := make(map[string]compose.Service)
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}

	var result []compose.Service
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if svc, ok := serviceMap[name]; ok {
			result = append(result, svc)
		}

		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	// Cycle fallback: append whatever is left in original order
	if len(result) < len(services) {
		for _, svc := range services {
			found := false
			for _, r := range result {
				if r.Name == svc.Name {
					found = true
					break
				}
			}
			if !found {
				result = append(result, svc)
			}
		}
	}

	return result
}
