package port

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// MarineRadioFrequency is the port every ship answers load balancer health checks on.
const MarineRadioFrequency = 1566

// LocalCaptain is the captain sentinel resolved to the operator's own SSH key.
const LocalCaptain = "$LOCAL"

// legacyLocalCaptain is the spelling used by the first configure script.
const legacyLocalCaptain = "local"

// KeyResolver resolves the operator's default public key fingerprint.
type KeyResolver interface {
	ResolveFingerprint(ctx context.Context) (string, error)
}

// FleetRequest identifies the fleet to reconcile and where it lives.
type FleetRequest struct {
	Port      string
	Ocean     string
	ProjectID string
	Fleet     string
	Spec      FleetSpec
}

// FleetReport describes what Provision found or created.
type FleetReport struct {
	CallSign            string        `json:"call_sign"`
	Pool                AutoscalePool `json:"autoscale_pool"`
	PoolCreated         bool          `json:"autoscale_pool_created"`
	LoadBalancer        LoadBalancer  `json:"load_balancer"`
	LoadBalancerCreated bool          `json:"load_balancer_created"`
}

// FleetProvisioner reconciles a fleet spec against live autoscale pools and
// load balancers. Calls are never retried and a half-provisioned fleet is
// left in place.
type FleetProvisioner struct {
	cloud  Cloud
	keys   KeyResolver
	logger *slog.Logger
}

// NewFleetProvisioner wires a provisioner. keys may be nil when no spec uses
// the local captain; logger may be nil.
func NewFleetProvisioner(cloud Cloud, keys KeyResolver, logger *slog.Logger) *FleetProvisioner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FleetProvisioner{cloud: cloud, keys: keys, logger: logger}
}

// Provision ensures exactly one autoscale pool and one load balancer exist
// under the fleet's call sign.
func (p *FleetProvisioner) Provision(ctx context.Context, req FleetRequest) (FleetReport, error) {
	const op = "provision fleet"
	callSign := CallSign(req.Port, req.Fleet)
	report := FleetReport{CallSign: callSign}
	if p.cloud == nil {
		return report, errorf(KindValidation, op, callSign, "no cloud client configured")
	}
	if err := req.Spec.Validate(); err != nil {
		return report, newError(KindValidation, op, callSign, err)
	}
	target, err := ParseReinforcementStrategy(req.Spec.ReinforcementStrategy)
	if err != nil {
		return report, err
	}

	pools, err := p.cloud.ListAutoscalePools(ctx)
	if err != nil {
		return report, newError(KindProvider, "list autoscale pools", callSign, err)
	}
	switch matches := filterByName(pools, callSign, func(a AutoscalePool) string { return a.Name }); len(matches) {
	case 0:
		captain, err := p.resolveCaptain(ctx, req.Spec.Captain)
		if err != nil {
			return report, err
		}
		pool, err := p.cloud.CreateAutoscalePool(ctx, AutoscalePoolRequest{
			Name:         callSign,
			MinInstances: req.Spec.MinSize,
			MaxInstances: req.Spec.MaxSize,
			Target:       target,
			Region:       req.Ocean,
			Size:         req.Spec.ShipType,
			Image:        req.Spec.Crew,
			SSHKeys:      []string{captain},
			Tags:         []string{callSign},
		})
		if err != nil {
			return report, newError(KindProvider, "create autoscale pool", callSign, err)
		}
		report.Pool, report.PoolCreated = pool, true
		p.logger.InfoContext(ctx, "autoscale pool created", "call_sign", callSign, "pool_id", pool.ID)
	case 1:
		report.Pool = matches[0]
		p.logger.DebugContext(ctx, "autoscale pool reused", "call_sign", callSign, "pool_id", matches[0].ID)
	default:
		return report, errorf(KindAmbiguousState, "reconcile autoscale pool", callSign, "%d autoscale pools share the name", len(matches))
	}

	lbs, err := p.cloud.ListLoadBalancers(ctx)
	if err != nil {
		return report, newError(KindProvider, "list load balancers", callSign, err)
	}
	switch matches := filterByName(lbs, callSign, func(l LoadBalancer) string { return l.Name }); len(matches) {
	case 0:
		rules := make([]ForwardingRule, 0, len(req.Spec.Gangways))
		for _, g := range req.Spec.Gangways {
			rules = append(rules, ForwardingRuleFor(g))
		}
		lb, err := p.cloud.CreateLoadBalancer(ctx, LoadBalancerRequest{
			Name:            callSign,
			Region:          req.Ocean,
			ForwardingRules: rules,
			Tag:             callSign,
			HealthCheck:     MarineRadioHealthCheck(),
		})
		if err != nil {
			return report, newError(KindProvider, "create load balancer", callSign, err)
		}
		report.LoadBalancer, report.LoadBalancerCreated = lb, true
		p.logger.InfoContext(ctx, "load balancer created", "call_sign", callSign, "load_balancer_id", lb.ID)
		if req.ProjectID != "" {
			if err := p.cloud.AssignResources(ctx, req.ProjectID, LoadBalancerURN(lb.ID)); err != nil {
				return report, newError(KindProvider, "assign load balancer", callSign, err)
			}
		}
	case 1:
		report.LoadBalancer = matches[0]
		p.logger.DebugContext(ctx, "load balancer reused", "call_sign", callSign, "load_balancer_id", matches[0].ID)
	default:
		return report, errorf(KindAmbiguousState, "reconcile load balancer", callSign, "%d load balancers share the name", len(matches))
	}
	return report, nil
}

func (p *FleetProvisioner) resolveCaptain(ctx context.Context, captain string) (string, error) {
	if captain != LocalCaptain && captain != legacyLocalCaptain {
		return captain, nil
	}
	if p.keys == nil {
		return "", errorf(KindValidation, "resolve captain", captain, "no local key resolver configured")
	}
	fp, err := p.keys.ResolveFingerprint(ctx)
	if err != nil {
		return "", newError(KindValidation, "resolve captain", captain, err)
	}
	return fp, nil
}

// ParseReinforcementStrategy translates "resource:threshold" into a scaling
// target. Supported resources are cpu and memory; the threshold is a
// utilization fraction in (0, 1].
func ParseReinforcementStrategy(s string) (ScalingTarget, error) {
	const op = "parse reinforcement strategy"
	resource, raw, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ScalingTarget{}, errorf(KindParse, op, s, "expected resource:threshold")
	}
	threshold, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return ScalingTarget{}, newError(KindParse, op, s, err)
	}
	if threshold <= 0 || threshold > 1 {
		return ScalingTarget{}, errorf(KindParse, op, s, "threshold %v outside (0, 1]", threshold)
	}
	switch strings.ToLower(strings.TrimSpace(resource)) {
	case "cpu":
		return ScalingTarget{CPUUtilization: threshold}, nil
	case "memory", "mem":
		return ScalingTarget{MemoryUtilization: threshold}, nil
	default:
		return ScalingTarget{}, errorf(KindParse, op, s, "unknown resource type %q", resource)
	}
}

// ForwardingRuleFor converts a gangway. A purser (certificate id) turns on
// TLS passthrough.
func ForwardingRuleFor(g Gangway) ForwardingRule {
	rule := ForwardingRule{
		EntryProtocol:  g.PierEnd.Type,
		EntryPort:      g.PierEnd.Number,
		TargetProtocol: g.ShipEnd.Type,
		TargetPort:     g.ShipEnd.Number,
	}
	if g.Purser != "" {
		rule.TLSPassthrough = true
		rule.CertificateID = g.Purser
	}
	return rule
}

// MarineRadioHealthCheck probes every ship's radio over HTTP.
func MarineRadioHealthCheck() HealthCheck {
	return HealthCheck{
		Protocol:               "http",
		Port:                   MarineRadioFrequency,
		Path:                   "/",
		CheckIntervalSeconds:   5,
		ResponseTimeoutSeconds: 5,
		UnhealthyThreshold:     2,
		HealthyThreshold:       3,
	}
}

func filterByName[T any](items []T, name string, nameOf func(T) string) []T {
	var out []T
	for _, it := range items {
		if nameOf(it) == name {
			out = append(out, it)
		}
	}
	return out
}

// String renders a report for CLI output.
func (r FleetReport) String() string {
	verb := func(created bool) string {
		if created {
			return "created"
		}
		return "reused"
	}
	return fmt.Sprintf("%s: autoscale pool %s (%s), load balancer %s (%s)",
		r.CallSign, r.Pool.ID, verb(r.PoolCreated), r.LoadBalancer.ID, verb(r.LoadBalancerCreated))
}
