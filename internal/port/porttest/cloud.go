// Package porttest provides in-memory collaborators for exercising the port
// authority without a cloud account.
package porttest

import (
	"context"
	"fmt"
	"sync"

	"enfra/internal/port"
)

// Cloud is an in-memory port.Cloud. Failing, when set, is returned from
// every call.
type Cloud struct {
	mu sync.Mutex
	id int

	Projects      []port.Project
	Pools         []port.AutoscalePool
	LoadBalancers []port.LoadBalancer

	PoolRequests         []port.AutoscalePoolRequest
	LoadBalancerRequests []port.LoadBalancerRequest
	Assigned             map[string][]string

	Failing error
}

var _ port.Cloud = (*Cloud)(nil)

// NewCloud returns an empty cloud.
func NewCloud() *Cloud { return &Cloud{Assigned: map[string][]string{}} }

func (c *Cloud) nextID(prefix string) string {
	c.id++
	return fmt.Sprintf("%s-%d", prefix, c.id)
}

func (c *Cloud) ListProjects(context.Context) ([]port.Project, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Failing != nil {
		return nil, c.Failing
	}
	return append([]port.Project(nil), c.Projects...), nil
}

func (c *Cloud) CreateProject(_ context.Context, req port.ProjectRequest) (port.Project, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Failing != nil {
		return port.Project{}, c.Failing
	}
	p := port.Project{ID: c.nextID("project"), Name: req.Name}
	c.Projects = append(c.Projects, p)
	return p, nil
}

func (c *Cloud) AssignResources(_ context.Context, projectID string, urns ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Failing != nil {
		return c.Failing
	}
	if c.Assigned == nil {
		c.Assigned = map[string][]string{}
	}
	c.Assigned[projectID] = append(c.Assigned[projectID], urns...)
	return nil
}

func (c *Cloud) ListAutoscalePools(context.Context) ([]port.AutoscalePool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Failing != nil {
		return nil, c.Failing
	}
	return append([]port.AutoscalePool(nil), c.Pools...), nil
}

func (c *Cloud) CreateAutoscalePool(_ context.Context, req port.AutoscalePoolRequest) (port.AutoscalePool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Failing != nil {
		return port.AutoscalePool{}, c.Failing
	}
	c.PoolRequests = append(c.PoolRequests, req)
	p := port.AutoscalePool{ID: c.nextID("pool"), Name: req.Name}
	c.Pools = append(c.Pools, p)
	return p, nil
}

func (c *Cloud) ListLoadBalancers(context.Context) ([]port.LoadBalancer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Failing != nil {
		return nil, c.Failing
	}
	return append([]port.LoadBalancer(nil), c.LoadBalancers...), nil
}

func (c *Cloud) CreateLoadBalancer(_ context.Context, req port.LoadBalancerRequest) (port.LoadBalancer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Failing != nil {
		return port.LoadBalancer{}, c.Failing
	}
	c.LoadBalancerRequests = append(c.LoadBalancerRequests, req)
	lb := port.LoadBalancer{ID: c.nextID("lb"), Name: req.Name}
	c.LoadBalancers = append(c.LoadBalancers, lb)
	return lb, nil
}

// Count returns how many pools and load balancers carry name.
func (c *Cloud) Count(name string) (pools, lbs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.Pools {
		if p.Name == name {
			pools++
		}
	}
	for _, lb := range c.LoadBalancers {
		if lb.Name == name {
			lbs++
		}
	}
	return pools, lbs
}

// Keys is a fixed port.KeyResolver.
type Keys struct {
	Fingerprint string
	Err         error
	Calls       int
}

// ResolveFingerprint returns the configured fingerprint or error.
func (k *Keys) ResolveFingerprint(context.Context) (string, error) {
	k.Calls++
	return k.Fingerprint, k.Err
}

// SampleFleet returns a valid fleet spec with one plain and one TLS gangway.
func SampleFleet() port.FleetSpec {
	return port.FleetSpec{
		ShipType:              "s-1vcpu-1gb",
		Crew:                  "ubuntu-24-04-x64",
		Captain:               port.LocalCaptain,
		MinSize:               1,
		MaxSize:               3,
		ReinforcementStrategy: "cpu:0.7",
		Gangways: []port.Gangway{
			{PierEnd: port.Dock{Type: "http", Number: 80}, ShipEnd: port.Dock{Type: "http", Number: 8080}},
			{PierEnd: port.Dock{Type: "https", Number: 443}, ShipEnd: port.Dock{Type: "https", Number: 8443}, Purser: "cert-1"},
		},
	}
}
