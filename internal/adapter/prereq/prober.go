package prereq

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"

	"setupwiz/internal/domain"
)

// ContainerInspector is the part of the Docker API the prober needs.
type ContainerInspector interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
}

// ContainerProber implements domain.ServiceProber: a tracked service is
// alive while its container exists and is running.
type ContainerProber struct {
	docker ContainerInspector
}

// NewContainerProber creates a prober backed by the Docker API.
func NewContainerProber(docker ContainerInspector) *ContainerProber {
	return &ContainerProber{docker: docker}
}

// Alive reports whether the container serviceID is running. A missing
// container is not an error.
func (p *ContainerProber) Alive(ctx context.Context, serviceID string) (bool, error) {
	info, err := p.docker.ContainerInspect(ctx, serviceID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container %s: %w", serviceID, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return false, nil
	}
	return info.State.Running, nil
}

var _ domain.ServiceProber = (*ContainerProber)(nil)
