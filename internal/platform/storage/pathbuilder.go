package storage

import (
	"fmt"
	"strings"
)

// OrderDocumentPath lays documents out as orders/{orderID}/documents/{type}-{documentID}.{ext}.
// The extension defaults to html.
func OrderDocumentPath(orderID, documentType, documentID, ext string) (string, error) {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "html"
	}
	segments := []struct{ name, value string }{
		{"order id", orderID},
		{"document type", documentType},
		{"document id", documentID},
		{"extension", ext},
	}
	for _, s := range segments {
		v := strings.TrimSpace(s.value)
		if v == "" {
			return "", fmt.Errorf("storage: %s is required", s.name)
		}
		if v == "." || v == ".." || strings.ContainsAny(v, `/\`) || strings.Contains(v, "..") {
			return "", fmt.Errorf("storage: %s %q is not a valid path segment", s.name, v)
		}
	}
	return fmt.Sprintf("orders/%s/documents/%s-%s.%s",
		strings.TrimSpace(orderID), strings.TrimSpace(documentType), strings.TrimSpace(documentID), ext), nil
}
