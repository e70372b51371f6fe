// Package model defines the domain types for the ngmesh CLI.
//
// These types are passed between the orchestrator (internal/netgen), the
// container runtime backend (internal/docker) and the archive transfer layer
// (internal/transfer). None of them reference the Docker SDK directly, which
// keeps the orchestration logic independent of the runtime implementation.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ImageRef identifies a container image by repository name and tag.
type ImageRef struct {
	// Name is the repository name, e.g. "ngsolve/ngsolve".
	Name string `json:"name"`

	// Tag is the image version tag, e.g. "latest".
	Tag string `json:"tag"`
}

// String returns the canonical "name:tag" reference accepted by the
// Docker image pull and create APIs. A missing tag defaults to "latest".
func (r ImageRef) String() string {
	tag := r.Tag
	if tag == "" {
		tag = "latest"
	}
	return r.Name + ":" + tag
}

// Validate checks that the reference has a repository name and that
// neither part contains whitespace.
func (r ImageRef) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("image name must not be empty")
	}
	if strings.ContainsAny(r.Name, " \t\n") || strings.ContainsAny(r.Tag, " \t\n:") {
		return fmt.Errorf("invalid image reference %q", r.String())
	}
	return nil
}

// ParseImageRef splits "name[:tag]" into an ImageRef. The tag separator is
// the last colon after the final slash, so registry ports such as
// "localhost:5000/netgen" are kept in the name.
func ParseImageRef(s string) (ImageRef, error) {
	s = strings.TrimSpace(s)
	ref := ImageRef{Name: s}
	slash := strings.LastIndex(s, "/")
	if colon := strings.LastIndex(s, ":"); colon > slash {
		ref.Name = s[:colon]
		ref.Tag = s[colon+1:]
	}
	if err := ref.Validate(); err != nil {
		return ImageRef{}, err
	}
	return ref, nil
}

// PullPolicy controls whether the provisioner pulls the image before
// creating the container.
type PullPolicy string

const (
	// PullAlways pulls the image on every invocation, even when it is
	// already present locally. This is the default.
	PullAlways PullPolicy = "always"

	// PullMissing pulls only when the image is not present locally.
	PullMissing PullPolicy = "missing"

	// PullNever never pulls. Container creation fails if the image is absent.
	PullNever PullPolicy = "never"
)

// String returns the string representation of PullPolicy.
func (p PullPolicy) String() string {
	return string(p)
}

// IsValid checks whether the PullPolicy value is one of the predefined
// policies.
func (p PullPolicy) IsValid() bool {
	switch p {
	case PullAlways, PullMissing, PullNever:
		return true
	default:
		return false
	}
}

// ParsePullPolicy converts a string to a PullPolicy.
// Returns an error if the string does not match any valid policy.
func ParsePullPolicy(s string) (PullPolicy, error) {
	policy := PullPolicy(strings.ToLower(strings.TrimSpace(s)))
	if !policy.IsValid() {
		return "", fmt.Errorf("invalid pull policy: %q (valid: always, missing, never)", s)
	}
	return policy, nil
}

// ContainerSpec describes the container the provisioner asks the runtime
// to create.
type ContainerSpec struct {
	// Name is the Docker container name. Empty lets the daemon pick one.
	Name string `json:"name,omitempty"`

	// Image is the image reference to instantiate.
	Image ImageRef `json:"image"`

	// Cmd is the container's main process. For meshing containers this is
	// an idle command that keeps the container alive between execs.
	Cmd []string `json:"cmd"`

	// Labels are applied to the container so leaked instances can be
	// discovered later.
	Labels map[string]string `json:"labels,omitempty"`
}

// ExecRequest describes a single command run inside an existing container.
type ExecRequest struct {
	// Cmd is the argv of the process to run.
	Cmd []string

	// User is the user the process runs as inside the container.
	User string
}

// ExecResult is the outcome of an ExecRequest.
type ExecResult struct {
	// ExitCode is the exit status reported by the runtime once the
	// process has finished.
	ExitCode int

	// Output holds the combined stdout and stderr of the process, in the
	// order the runtime delivered the frames.
	Output []byte
}

// ContainerInfo holds runtime information about a Docker container.
// This data is fetched dynamically from the Docker API, not persisted.
type ContainerInfo struct {
	// ContainerID is the unique Docker container identifier.
	ContainerID string `json:"containerId"`

	// ContainerName is the human-readable Docker container name.
	ContainerName string `json:"containerName"`

	// Image is the image the container was created from.
	Image string `json:"image"`

	// Status is the Docker container state (e.g., "running", "exited").
	Status string `json:"status"`

	// CreatedAt is taken from the ngmesh.created-at label when present,
	// otherwise from the daemon's creation timestamp.
	CreatedAt time.Time `json:"createdAt"`

	// Labels is the full set of Docker labels on the container.
	Labels map[string]string `json:"labels,omitempty"`
}

// ShortID truncates a container ID to the 12 characters Docker shows.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
