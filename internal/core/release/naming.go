package release

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// NetworkName generates the project network name.
// Pattern: stagehand_{project}
func NetworkName(project string) string {
	return fmt.Sprintf("stagehand_%s", project)
}

// VolumeName generates a named volume name for a project.
// Pattern: stagehand_{project}_{volumeName}
func VolumeName(project, volumeName string) string {
	return fmt.Sprintf("stagehand_%s_%s", project, volumeName)
}

// ContainerName generates a container name for a service in a project.
// Pattern: stagehand_{project}_{serviceName}
func ContainerName(project, serviceName string) string {
	return fmt.Sprintf("stagehand_%s_%s", project, serviceName)
}

// ImageTag generates the local tag for a service built from a compose
// build section.
// Pattern: stagehand_{project}_{serviceName}:latest
func ImageTag(project, serviceName string) string {
	return fmt.Sprintf("stagehand_%s_%s:latest", project, serviceName)
}
