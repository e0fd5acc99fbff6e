package cloudapi

import (
	"context"
	"net/http"
	"os"
	"time"
)

// CloudType identifies a cloud provider.
type CloudType string

const (
	CloudTypeAWS     CloudType = "aws"
	CloudTypeGCP     CloudType = "gcp"
	CloudTypeUnknown CloudType = "unknown"
)

const (
	awsMetadataURL = "http://169.254.169.254/latest/meta-data/"
	gcpMetadataURL = "http://metadata.google.internal/computeMetadata/v1/project/project-id"
)

// DetectCloud determines which cloud the process runs in. Environment
// variables are checked first, then the instance metadata endpoints.
func DetectCloud(ctx context.Context) CloudType {
	if cloud := detectFromEnv(); cloud != CloudTypeUnknown {
		return cloud
	}
	return detectFromMetadata(ctx)
}

func detectFromEnv() CloudType {
	for _, key := range []string{"AWS_REGION", "AWS_DEFAULT_REGION", "AWS_EXECUTION_ENV"} {
		if os.Getenv(key) != "" {
			return CloudTypeAWS
		}
	}
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCP_PROJECT", "GOOGLE_APPLICATION_CREDENTIALS"} {
		if os.Getenv(key) != "" {
			return CloudTypeGCP
		}
	}
	return CloudTypeUnknown
}

func detectFromMetadata(ctx context.Context) CloudType {
	client := &http.Client{Timeout: 2 * time.Second}

	// GCP first: its metadata server requires a unique header, so a
	// positive answer is unambiguous.
	if probe(ctx, client, gcpMetadataURL, "Metadata-Flavor", "Google") {
		return CloudTypeGCP
	}
	if probe(ctx, client, awsMetadataURL, "", "") {
		return CloudTypeAWS
	}
	return CloudTypeUnknown
}

func probe(ctx context.Context, client *http.Client, url, header, value string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	if header != "" {
		req.Header.Set(header, value)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
