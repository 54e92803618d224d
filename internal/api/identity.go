package api

import (
	"net/http"
	"strings"

	"github.com/abhiyan52/ClarityQL/internal/auth"
)

// tenantFromRequest prefers the authenticated identity. Without auth the
// X-Tenant-ID header scopes conversations, and an empty tenant is shared.
func tenantFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.TenantID
	}
	return strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
}
