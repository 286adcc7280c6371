// Package objectstore implements durable blob storage for screenshots
// and binary artifacts, keyed by per-agent normalized paths, backed by
// MinIO (github.com/minio/minio-go/v7).
package objectstore

import "strings"

const (
	BucketScreenshots = "screenshots"
	BucketBinaries    = "binaries"
)

// cuaSuffixes lists vendor suffixes stripped during normalization. Any
// newly recognized vendor suffix is added here, not by special-casing
// callers.
var cuaSuffixes = []string{"-cua"}

// NormalizeAgentID is the pure function applied at every ingress point
// (artifact registration, path construction, and claim lookups):
// lowercase, then strip a trailing vendor suffix such as "-cua".
func NormalizeAgentID(raw string) string {
	id := strings.ToLower(strings.TrimSpace(raw))
	for _, suffix := range cuaSuffixes {
		id = strings.TrimSuffix(id, suffix)
	}
	return id
}

// ObjectPath builds the canonical path template "<normalized_agent_id>/<name>",
// with an optional "<subcategory>" segment in between for callers that use
// one bucket for more than one kind of object. subcategory must never
// equal the bucket name itself: a caller uploading into the "screenshots"
// bucket passes subcategory "" so the path is "<agent>/<uuid>.<ext>", not
// "<agent>/screenshots/<uuid>.<ext>", which would repeat the bucket name
// inside object_path.
func ObjectPath(agentID, subcategory, name string) string {
	if subcategory == "" {
		return NormalizeAgentID(agentID) + "/" + name
	}
	return NormalizeAgentID(agentID) + "/" + subcategory + "/" + name
}
