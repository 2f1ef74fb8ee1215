// Package digitalocean implements port.Cloud on top of the godo API client.
package digitalocean

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/digitalocean/godo"

	"enfra/internal/port"
)

// TokenEnv is the environment variable holding the API token.
const TokenEnv = "DIGITALOCEAN_TOKEN"

// pageSize is the listing page size requested from the API.
const pageSize = 200

// Client adapts a godo client to port.Cloud. Every listing walks all pages.
type Client struct {
	api *godo.Client
}

var _ port.Cloud = (*Client)(nil)

// New wraps an existing godo client.
func New(api *godo.Client) *Client { return &Client{api: api} }

// NewFromToken builds a client authenticated with a personal access token.
func NewFromToken(token string) (*Client, error) {
	if token == "" {
		return nil, errors.New("digitalocean: api token required")
	}
	return New(godo.NewFromToken(token)), nil
}

// NewFromEnv reads the token from DIGITALOCEAN_TOKEN.
func NewFromEnv() (*Client, error) {
	return NewFromToken(os.Getenv(TokenEnv))
}

// NewWithBaseURL builds an unauthenticated client against baseURL. Used to
// point the adapter at a test server.
func NewWithBaseURL(httpClient *http.Client, baseURL string) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	api, err := godo.New(httpClient, godo.SetBaseURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("digitalocean: %w", err)
	}
	return New(api), nil
}

// ListProjects returns every project on the account.
func (c *Client) ListProjects(ctx context.Context) ([]port.Project, error) {
	var out []port.Project
	err := paginate(func(opt *godo.ListOptions) (*godo.Response, error) {
		projects, resp, err := c.api.Projects.List(ctx, opt)
		for _, p := range projects {
			out = append(out, port.Project{ID: p.ID, Name: p.Name})
		}
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, req port.ProjectRequest) (port.Project, error) {
	p, _, err := c.api.Projects.Create(ctx, &godo.CreateProjectRequest{Name: req.Name, Purpose: req.Purpose})
	if err != nil {
		return port.Project{}, fmt.Errorf("create project %s: %w", req.Name, err)
	}
	return port.Project{ID: p.ID, Name: p.Name}, nil
}

// AssignResources moves the resources identified by urns into the project.
func (c *Client) AssignResources(ctx context.Context, projectID string, urns ...string) error {
	if len(urns) == 0 {
		return nil
	}
	resources := make([]interface{}, len(urns))
	for i, urn := range urns {
		resources[i] = urn
	}
	if _, _, err := c.api.Projects.AssignResources(ctx, projectID, resources...); err != nil {
		return fmt.Errorf("assign resources to project %s: %w", projectID, err)
	}
	return nil
}

// ListAutoscalePools returns every droplet autoscale pool.
func (c *Client) ListAutoscalePools(ctx context.Context) ([]port.AutoscalePool, error) {
	var out []port.AutoscalePool
	err := paginate(func(opt *godo.ListOptions) (*godo.Response, error) {
		pools, resp, err := c.api.DropletAutoscale.List(ctx, opt)
		for _, p := range pools {
			if p != nil {
				out = append(out, port.AutoscalePool{ID: p.ID, Name: p.Name})
			}
		}
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("list autoscale pools: %w", err)
	}
	return out, nil
}

// CreateAutoscalePool creates a droplet autoscale pool.
func (c *Client) CreateAutoscalePool(ctx context.Context, req port.AutoscalePoolRequest) (port.AutoscalePool, error) {
	p, _, err := c.api.DropletAutoscale.Create(ctx, autoscalePoolRequest(req))
	if err != nil {
		return port.AutoscalePool{}, fmt.Errorf("create autoscale pool %s: %w", req.Name, err)
	}
	return port.AutoscalePool{ID: p.ID, Name: p.Name}, nil
}

func autoscalePoolRequest(req port.AutoscalePoolRequest) *godo.DropletAutoscalePoolRequest {
	return &godo.DropletAutoscalePoolRequest{
		Name: req.Name,
		Config: &godo.DropletAutoscaleConfiguration{
			MinInstances:            uint64(req.MinInstances),
			MaxInstances:            uint64(req.MaxInstances),
			TargetCPUUtilization:    req.Target.CPUUtilization,
			TargetMemoryUtilization: req.Target.MemoryUtilization,
		},
		DropletTemplate: &godo.DropletAutoscaleResourceTemplate{
			Size:    req.Size,
			Region:  req.Region,
			Image:   req.Image,
			Tags:    req.Tags,
			SSHKeys: req.SSHKeys,
		},
	}
}

// ListLoadBalancers returns every load balancer.
func (c *Client) ListLoadBalancers(ctx context.Context) ([]port.LoadBalancer, error) {
	var out []port.LoadBalancer
	err := paginate(func(opt *godo.ListOptions) (*godo.Response, error) {
		lbs, resp, err := c.api.LoadBalancers.List(ctx, opt)
		for _, lb := range lbs {
			out = append(out, port.LoadBalancer{ID: lb.ID, Name: lb.Name})
		}
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("list load balancers: %w", err)
	}
	return out, nil
}

// CreateLoadBalancer creates a load balancer targeting droplets by tag.
func (c *Client) CreateLoadBalancer(ctx context.Context, req port.LoadBalancerRequest) (port.LoadBalancer, error) {
	lb, _, err := c.api.LoadBalancers.Create(ctx, loadBalancerRequest(req))
	if err != nil {
		return port.LoadBalancer{}, fmt.Errorf("create load balancer %s: %w", req.Name, err)
	}
	return port.LoadBalancer{ID: lb.ID, Name: lb.Name}, nil
}

func loadBalancerRequest(req port.LoadBalancerRequest) *godo.LoadBalancerRequest {
	rules := make([]godo.ForwardingRule, 0, len(req.ForwardingRules))
	for _, r := range req.ForwardingRules {
		rules = append(rules, godo.ForwardingRule{
			EntryProtocol:  r.EntryProtocol,
			EntryPort:      r.EntryPort,
			TargetProtocol: r.TargetProtocol,
			TargetPort:     r.TargetPort,
			CertificateID:  r.CertificateID,
			TlsPassthrough: r.TLSPassthrough,
		})
	}
	hc := req.HealthCheck
	return &godo.LoadBalancerRequest{
		Name:            req.Name,
		Region:          req.Region,
		ForwardingRules: rules,
		Tag:             req.Tag,
		HealthCheck: &godo.HealthCheck{
			Protocol:               hc.Protocol,
			Port:                   hc.Port,
			Path:                   hc.Path,
			CheckIntervalSeconds:   hc.CheckIntervalSeconds,
			ResponseTimeoutSeconds: hc.ResponseTimeoutSeconds,
			UnhealthyThreshold:     hc.UnhealthyThreshold,
			HealthyThreshold:       hc.HealthyThreshold,
		},
	}
}

// paginate calls fetch with increasing page numbers until the API reports
// the last page.
func paginate(fetch func(*godo.ListOptions) (*godo.Response, error)) error {
	opt := &godo.ListOptions{Page: 1, PerPage: pageSize}
	for {
		resp, err := fetch(opt)
		if err != nil {
			return err
		}
		if resp == nil || resp.Links == nil || resp.Links.IsLastPage() {
			return nil
		}
		page, err := resp.Links.CurrentPage()
		if err != nil {
			return fmt.Errorf("read current page: %w", err)
		}
		opt.Page = page + 1
	}
}
