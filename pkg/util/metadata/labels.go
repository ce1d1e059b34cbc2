package metadata

import (
	"maps"
)

// Standard Kubernetes label keys following kubernetes.io conventions.
//
// See: https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
const (
	// LabelAppName is the standard label key for the application name.
	LabelAppName = "app.kubernetes.io/name"

	// LabelAppInstance is the standard label key for the unique instance name.
	LabelAppInstance = "app.kubernetes.io/instance"

	// LabelAppComponent is the standard label key for the component within the
	// application.
	LabelAppComponent = "app.kubernetes.io/component"

	// LabelAppPartOf is the standard label key for the name of a higher level
	// application this one is part of.
	LabelAppPartOf = "app.kubernetes.io/part-of"

	// LabelAppManagedBy is the standard label key for the tool managing the
	// resource.
	LabelAppManagedBy = "app.kubernetes.io/managed-by"
)

const (
	// AppNameChrony is the fixed application name for all operator resources.
	AppNameChrony = "chrony"

	// ManagedByChronyOperator identifies the operator managing these resources.
	ManagedByChronyOperator = "chrony-operator"
)

const (
	// ComponentNTSServer identifies objects requesting NTS server certificates.
	ComponentNTSServer = "nts-server"
)

// BuildStandardLabels returns a map of standard kubernetes labels.
// instance identifies the managed host, component is the part of chrony the
// object belongs to.
func BuildStandardLabels(instance, component string) map[string]string {
	labels := map[string]string{
		LabelAppName:      AppNameChrony,
		LabelAppComponent: component,
		LabelAppPartOf:    AppNameChrony,
		LabelAppManagedBy: ManagedByChronyOperator,
	}
	if instance != "" {
		labels[LabelAppInstance] = instance
	}
	return labels
}

// GetSelectorLabels returns the labels that select every object the operator
// created for instance, independent of the component.
func GetSelectorLabels(instance string) map[string]string {
	selector := map[string]string{
		LabelAppName:      AppNameChrony,
		LabelAppManagedBy: ManagedByChronyOperator,
	}
	if instance != "" {
		selector[LabelAppInstance] = instance
	}
	return selector
}

// MergeLabels merges custom labels with standard labels.
//
// Note that standard labels take precedence over custom labels to prevent users
// from overriding critical operator-managed labels.
func MergeLabels(standardLabels, customLabels map[string]string) map[string]string {
	merged := make(map[string]string)

	// Copy custom labels first (if provided)
	maps.Copy(merged, customLabels)

	// Copy standard labels (overwriting any duplicates from custom)
	maps.Copy(merged, standardLabels)

	return merged
}
