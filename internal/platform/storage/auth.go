package storage

import (
	"errors"

	"github.com/hanko-field/commerce/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller may not read the document.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeDownload allows the order owner and staff.
func AuthorizeDownload(identity *auth.Identity, ownerID string) error {
	if identity == nil {
		return ErrPermissionDenied
	}
	if ownerID != "" && identity.UID == ownerID {
		return nil
	}
	if identity.IsStaff() {
		return nil
	}
	return ErrPermissionDenied
}
