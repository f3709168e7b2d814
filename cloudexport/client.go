package cloudexport

import (
	"context"

	monitoring "cloud.google.com/go/monitoring/apiv3/v2"
	"google.golang.org/api/option"
	"google.golang.org/genproto/googleapis/api/monitoredres"

	"github.com/nikolaybotev/go-server-metrics/cloudmeta"
)

// ClientConfig holds the connection knobs for NewClient. The zero
// value authenticates with application default credentials against the
// production Cloud Monitoring API.
type ClientConfig struct {
	// TestEndpoint, if set, sends data to the given endpoint without
	// authentication instead of the Cloud Monitoring API.
	TestEndpoint string
	// CredentialsFile, if set, authenticates with the given service
	// account key file.
	CredentialsFile string
}

// NewClient creates the metric client an Exporter emits through. The
// caller owns the client and closes it after stopping the exporter.
func NewClient(ctx context.Context, cfg ClientConfig) (*monitoring.MetricClient, error) {
	var opts []option.ClientOption
	if cfg.TestEndpoint != "" {
		opts = append(opts,
			option.WithEndpoint(cfg.TestEndpoint),
			option.WithoutAuthentication(),
		)
	} else {
		opts = append(opts, option.WithScopes("https://www.googleapis.com/auth/cloud-platform"))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return monitoring.NewMetricClient(ctx, opts...)
}

// ResolveProjectID returns the explicitly configured project ID, or
// the one the metadata server reports, or "".
func ResolveProjectID(configured string) string {
	if configured != "" {
		return configured
	}
	if id, err := cloudmeta.ProjectID(); err == nil {
		return id
	}
	return ""
}

// GenericNodeResource builds the generic_node monitored resource for
// this host, identified through the cloud metadata services.
func GenericNodeResource(projectID, namespace string) *monitoredres.MonitoredResource {
	return &monitoredres.MonitoredResource{
		Type: "generic_node",
		Labels: map[string]string{
			"project_id": projectID,
			"location":   cloudmeta.Location(),
			"namespace":  namespace,
			"node_id":    cloudmeta.InstanceName(),
		},
	}
}
