package config

import "strings"

// defaultStorageMode keeps snapshots on disk for local runs and in the
// S3-compatible bucket everywhere else.
func defaultStorageMode(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return StorageLocal
	}
	return StorageS3
}
