package security

import (
	"fmt"
	"strings"
)

var blockedPathPatterns = []string{
	"file://",
	"../",
	"..\\",
	"/etc/",
	"/proc/",
	"/sys/",
	"c:/",
	"c:\\",
	"\\\\.\\pipe\\",
}

var encodedTraversalPatterns = []string{
	"%2e%2e/",
	"%2e%2e%2f",
	"..%2f",
	"%2e%2e\\",
	"%2e%2e%5c",
	"..%5c",
}

// checkPath rejects path and query values carrying file-access or
// traversal patterns, including the URL-encoded spellings.
func (g *Guard) checkPath(value string) error {
	if value == "" {
		return nil
	}
	normalized := strings.ToLower(value)
	for _, pattern := range blockedPathPatterns {
		if strings.Contains(normalized, pattern) {
			return fmt.Errorf("path contains blocked pattern %q", pattern)
		}
	}
	for _, pattern := range encodedTraversalPatterns {
		if strings.Contains(normalized, pattern) {
			return fmt.Errorf("path contains encoded traversal pattern")
		}
	}
	return nil
}
