// Package gce controls a GCE managed instance group as the render
// worker pool.
package gce

import (
	"context"
	"fmt"

	compute "google.golang.org/api/compute/v1"
)

// Controller implements fleet.Controller over one zonal MIG.
type Controller struct {
	svc     *compute.Service
	project string
	zone    string
	group   string
}

func New(svc *compute.Service, project, zone, group string) *Controller {
	return &Controller{svc: svc, project: project, zone: zone, group: group}
}

func (c *Controller) Size(ctx context.Context) (int, error) {
	mig, err := c.svc.InstanceGroupManagers.Get(c.project, c.zone, c.group).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("gce: get %s: %w", c.group, err)
	}
	return int(mig.TargetSize), nil
}

func (c *Controller) Resize(ctx context.Context, target int) error {
	_, err := c.svc.InstanceGroupManagers.Resize(c.project, c.zone, c.group, int64(target)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gce: resize %s to %d: %w", c.group, target, err)
	}
	return nil
}
