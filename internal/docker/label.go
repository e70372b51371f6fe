package docker

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shinji-kodama/ngmesh/internal/model"
)

// Label key constants define the Docker label keys put on every container
// ngmesh creates. A container that is reaped normally never outlives its
// generate call, so these labels matter only for the leftovers of runs
// that were interrupted before cleanup could happen.
//
// All keys share the "ngmesh." prefix to namespace them and avoid
// collisions with labels set by other tools.
const (
	// LabelPrefix is the common prefix for all ngmesh labels.
	LabelPrefix = "ngmesh."

	// LabelManagedBy identifies containers created by ngmesh.
	// Key: "ngmesh.managed-by", Value: always "ngmesh".
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelImage records the image reference the container was created
	// from, as requested (before digest resolution).
	LabelImage = LabelPrefix + "image"

	// LabelCreatedAt stores the RFC 3339 timestamp of container creation.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the constant value for the LabelManagedBy label.
const ManagedByValue = "ngmesh"

// containerNamePrefix prefixes every generated container name.
const containerNamePrefix = "ngmesh-"

// BuildLabels constructs the label map for a meshing container.
func BuildLabels(ref model.ImageRef, createdAt time.Time) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelImage:     ref.String(),
		// UTC keeps the label comparable across hosts in different zones.
		LabelCreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
}

// ParseCreatedAt reads the creation timestamp label.
func ParseCreatedAt(labels map[string]string) (time.Time, error) {
	v, ok := labels[LabelCreatedAt]
	if !ok {
		return time.Time{}, fmt.Errorf("missing label %s", LabelCreatedAt)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid label %s: %w", LabelCreatedAt, err)
	}
	return t, nil
}

// IsManaged reports whether labels mark a container as created by ngmesh.
func IsManaged(labels map[string]string) bool {
	return labels[LabelManagedBy] == ManagedByValue
}

// NewContainerName returns a unique container name such as
// "ngmesh-1f0c2a9e". Eight hex digits of a random UUID are plenty for
// containers that live for the duration of a single call.
func NewContainerName() string {
	return containerNamePrefix + uuid.NewString()[:8]
}

// withManagement returns a copy of spec carrying the management labels
// and, if it has none, a generated container name. Caller-supplied labels
// are kept unless they collide with ngmesh's own keys.
func withManagement(spec model.ContainerSpec, now time.Time) model.ContainerSpec {
	labels := make(map[string]string, len(spec.Labels)+3)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	for k, v := range BuildLabels(spec.Image, now) {
		labels[k] = v
	}
	spec.Labels = labels
	if spec.Name == "" {
		spec.Name = NewContainerName()
	}
	return spec
}
