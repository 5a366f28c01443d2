package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/JonMunkholm/finimport/internal/core"
	mw "github.com/JonMunkholm/finimport/internal/web/middleware"
)

// tenantHeader names the tenant an import is stored under.
const tenantHeader = "X-Tenant-ID"

// withRequestMetadata adds the client IP and tenant to the context so
// they are recorded on import jobs.
func withRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, mw.ClientIP(r)) // already processed by TrustedRealIP
	if tenant := requestTenant(r); tenant != "" {
		ctx = core.ContextWithTenant(ctx, tenant)
	}
	return ctx
}

// requestTenant returns the tenant named by the request, or "" when the
// header is absent.
func requestTenant(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(tenantHeader))
}
