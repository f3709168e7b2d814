// Package cloudmeta resolves the identity of the host instance, used
// to label the monitored resource of exported metrics. It probes the
// GCE metadata server, then AWS IMDSv2, then falls back to the
// hostname.
package cloudmeta

import (
	"os"

	"cloud.google.com/go/compute/metadata"
	"github.com/pkg/errors"
)

// InstanceName returns the best available identifier for this host:
// the GCE instance name, the EC2 instance ID, the hostname, or
// "unknown".
func InstanceName() string {
	if metadata.OnGCE() {
		if name, err := metadata.InstanceName(); err == nil && name != "" {
			return name
		}
	}
	if id, err := EC2InstanceID(); err == nil && id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}

// ProjectID returns the GCP project this instance runs in.
func ProjectID() (string, error) {
	if !metadata.OnGCE() {
		return "", errors.New("not running on GCE")
	}
	return metadata.ProjectID()
}

// Zone returns the GCE zone of this instance.
func Zone() (string, error) {
	if !metadata.OnGCE() {
		return "", errors.New("not running on GCE")
	}
	return metadata.Zone()
}

// Location returns the best available placement for this host: the GCE
// zone, the AWS region, or "global".
func Location() string {
	if zone, err := Zone(); err == nil && zone != "" {
		return zone
	}
	if region, err := EC2Region(); err == nil && region != "" {
		return region
	}
	return "global"
}
