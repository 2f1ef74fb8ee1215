package port

import "context"

// Cloud is the resource provisioning client. Implementations return every
// page of a listing and pass provider errors through unchanged.
type Cloud interface {
	ListProjects(ctx context.Context) ([]Project, error)
	CreateProject(ctx context.Context, req ProjectRequest) (Project, error)
	AssignResources(ctx context.Context, projectID string, urns ...string) error

	ListAutoscalePools(ctx context.Context) ([]AutoscalePool, error)
	CreateAutoscalePool(ctx context.Context, req AutoscalePoolRequest) (AutoscalePool, error)

	ListLoadBalancers(ctx context.Context) ([]LoadBalancer, error)
	CreateLoadBalancer(ctx context.Context, req LoadBalancerRequest) (LoadBalancer, error)
}

// Project groups a port's resources on the provider.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProjectRequest creates a project.
type ProjectRequest struct {
	Name    string
	Purpose string
}

// AutoscalePool is a provisioned droplet autoscale pool.
type AutoscalePool struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ScalingTarget is the parsed form of a reinforcement strategy. Exactly one
// field is non-zero.
type ScalingTarget struct {
	CPUUtilization    float64
	MemoryUtilization float64
}

// AutoscalePoolRequest creates an autoscale pool.
type AutoscalePoolRequest struct {
	Name         string
	MinInstances int
	MaxInstances int
	Target       ScalingTarget
	Region       string
	Size         string
	Image        string
	SSHKeys      []string
	Tags         []string
}

// LoadBalancer is a provisioned load balancer.
type LoadBalancer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ForwardingRule is one load balancer rule built from a gangway.
type ForwardingRule struct {
	EntryProtocol  string
	EntryPort      int
	TargetProtocol string
	TargetPort     int
	CertificateID  string
	TLSPassthrough bool
}

// HealthCheck configures load balancer probing of the fleet.
type HealthCheck struct {
	Protocol               string
	Port                   int
	Path                   string
	CheckIntervalSeconds   int
	ResponseTimeoutSeconds int
	UnhealthyThreshold     int
	HealthyThreshold       int
}

// LoadBalancerRequest creates a load balancer.
type LoadBalancerRequest struct {
	Name            string
	Region          string
	ForwardingRules []ForwardingRule
	Tag             string
	HealthCheck     HealthCheck
}

// LoadBalancerURN is the resource identifier used for project assignment.
func LoadBalancerURN(id string) string { return "do:loadbalancer:" + id }
