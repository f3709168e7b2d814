package cloudmeta

import (
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const (
	imdsBaseURL   = "http://169.254.169.254"
	imdsTokenPath = "/latest/api/token"
)

// EC2InstanceID returns the EC2 instance ID from IMDSv2.
func EC2InstanceID() (string, error) {
	return awsMetadata("/latest/meta-data/instance-id")
}

// EC2Region returns the AWS region from IMDSv2.
func EC2Region() (string, error) {
	return awsMetadata("/latest/meta-data/placement/region")
}

// imdsToken obtains an IMDSv2 session token; "" means the token
// endpoint is unavailable, in which case requests go out unadorned and
// IMDSv1 hosts still answer.
func imdsToken(client *http.Client) string {
	req, err := http.NewRequest(http.MethodPut, imdsBaseURL+imdsTokenPath, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("X-aws-ec2-metadata-token-ttl-seconds", "30")

	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	token, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	return string(token)
}

func awsMetadata(path string) (string, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	defer client.CloseIdleConnections()

	req, err := http.NewRequest(http.MethodGet, imdsBaseURL+path, nil)
	if err != nil {
		return "", errors.Wrapf(err, "building request for %s", path)
	}
	if token := imdsToken(client); token != "" {
		req.Header.Set("X-aws-ec2-metadata-token", token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "fetching %s", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("fetching %s: HTTP %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrapf(err, "reading response for %s", path)
	}
	return string(body), nil
}
