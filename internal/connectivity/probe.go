package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/models"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe is a connectivity check that may hold resources.
type Probe interface {
	Check(ctx context.Context) bool
	Close() error
}

// HealthChecker is the part of the remote client the health probe needs.
type HealthChecker interface {
	CheckHealth(ctx context.Context) bool
}

// HealthProbe is online when the remote health endpoint answers 2xx.
type HealthProbe struct {
	checker HealthChecker
	timeout time.Duration
}

func NewHealthProbe(checker HealthChecker, timeout time.Duration) *HealthProbe {
	return &HealthProbe{checker: checker, timeout: orDefault(timeout)}
}

func (p *HealthProbe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.checker.CheckHealth(ctx)
}

func (p *HealthProbe) Close() error { return nil }

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNSProbe is online when a well-known host resolves.
type DNSProbe struct {
	resolver Resolver
	host     string
	timeout  time.Duration
}

func NewDNSProbe(resolver Resolver, host string, timeout time.Duration) *DNSProbe {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &DNSProbe{resolver: resolver, host: host, timeout: orDefault(timeout)}
}

func (p *DNSProbe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	addrs, err := p.resolver.LookupHost(ctx, p.host)
	return err == nil && len(addrs) > 0
}

func (p *DNSProbe) Close() error { return nil }

// GRPCProbe asks a grpc health service whether it is serving.
type GRPCProbe struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
	timeout time.Duration
}

func NewGRPCProbe(address, service string, timeout time.Duration) (*GRPCProbe, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", address, err)
	}
	return &GRPCProbe{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		service: service,
		timeout: orDefault(timeout),
	}, nil
}

func (p *GRPCProbe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (p *GRPCProbe) Close() error {
	return p.conn.Close()
}

// AnyProbe is online as soon as one of its probes is.
type AnyProbe struct {
	probes []Probe
}

func NewAnyProbe(probes ...Probe) *AnyProbe {
	return &AnyProbe{probes: probes}
}

func (p *AnyProbe) Check(ctx context.Context) bool {
	for _, probe := range p.probes {
		if ctx.Err() != nil {
			return false
		}
		if probe.Check(ctx) {
			return true
		}
	}
	return false
}

func (p *AnyProbe) Close() error {
	var errs []error
	for _, probe := range p.probes {
		if err := probe.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds the probe selected by cfg.Probe.Mode.
func New(cfg config.SyncConfig, checker HealthChecker, logger *zerolog.Logger) (Probe, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	timeout := cfg.ConnectivityTimeout

	switch cfg.Probe.Mode {
	case "", config.ProbeModeHealth:
		return NewHealthProbe(checker, timeout), nil
	case config.ProbeModeDNS:
		return NewDNSProbe(nil, cfg.Probe.DNSHost, timeout), nil
	case config.ProbeModeGRPC:
		return NewGRPCProbe(cfg.Probe.GRPCAddress, cfg.Probe.GRPCService, timeout)
	case config.ProbeModeAny:
		probes := []Probe{NewHealthProbe(checker, timeout)}
		if cfg.Probe.DNSHost != "" {
			probes = append(probes, NewDNSProbe(nil, cfg.Probe.DNSHost, timeout))
		}
		if cfg.Probe.GRPCAddress != "" {
			gp, err := NewGRPCProbe(cfg.Probe.GRPCAddress, cfg.Probe.GRPCService, timeout)
			if err != nil {
				return nil, err
			}
			probes = append(probes, gp)
		}
		logger.Debug().Int("probes", len(probes)).Msg("connectivity probe: any")
		return NewAnyProbe(probes...), nil
	default:
		return nil, fmt.Errorf("unknown probe mode %q", cfg.Probe.Mode)
	}
}

func orDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return models.DefaultConnectivityTimeout
	}
	return timeout
}
