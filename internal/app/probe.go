package app

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceHealth is one line of a probe result.
type ServiceHealth struct {
	Service  string
	Response *healthpb.HealthCheckResponse
}

// Probe dials the health socket of a running client and checks every
// service in Services.
func Probe(ctx context.Context, socketPath string) ([]ServiceHealth, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial client: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client := healthpb.NewHealthClient(conn)
	out := make([]ServiceHealth, 0, len(Services))
	for _, name := range Services {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: name})
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", name, err)
		}
		out = append(out, ServiceHealth{Service: name, Response: resp})
	}
	return out, nil
}
