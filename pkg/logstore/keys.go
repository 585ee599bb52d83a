package logstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dukex/nodelog/pkg/models"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeNodeID replaces every character outside [a-zA-Z0-9_-] with an underscore.
func SanitizeNodeID(nodeID string) string {
	return unsafeKeyChars.ReplaceAllString(nodeID, "_")
}

// EscapeKeySegment percent-encodes every byte outside [a-zA-Z0-9_-], so distinct
// ids always map to distinct single path segments.
func EscapeKeySegment(segment string) string {
	var b strings.Builder

	for i := range len(segment) {
		c := segment[i]
		if isKeyChar(c) {
			b.WriteByte(c)

			continue
		}

		fmt.Fprintf(&b, "%%%02X", c)
	}

	return b.String()
}

// StorageKey returns {basePath}/{workspaceID}/{executionID}/{nodeID}_{field}.json
// with the workspace and execution ids escaped and the node id sanitized.
// Keys carry no content hash: one write per (execution, node, field) is assumed.
func StorageKey(basePath, workspaceID, executionID, nodeID string, field models.PayloadField) string {
	return ExecutionPrefix(basePath, workspaceID, executionID) + SanitizeNodeID(nodeID) + "_" + string(field) + ".json"
}

// ExecutionPrefix is the key prefix shared by every blob of an execution.
func ExecutionPrefix(basePath, workspaceID, executionID string) string {
	return strings.Join([]string{
		strings.TrimRight(basePath, "/"),
		EscapeKeySegment(workspaceID),
		EscapeKeySegment(executionID),
	}, "/") + "/"
}

func isKeyChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}
