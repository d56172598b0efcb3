// Package credentials resolves tenant references to tenant identifiers.
package credentials

import (
	"context"
	"strings"

	"github.com/dxpops/conductor/internal/core"
	apperrors "github.com/dxpops/conductor/internal/errors"
)

// Static resolves references from a fixed map, typically CREDENTIALS_TENANTS.
type Static struct {
	tenants map[string]string
	strict  bool
}

var _ core.CredentialResolver = (*Static)(nil)

// NewStatic creates a Static resolver. When strict is false, a reference missing from the
// map resolves to itself.
func NewStatic(tenants map[string]string, strict bool) *Static {
	m := make(map[string]string, len(tenants))
	for ref, tenant := range tenants {
		m[strings.TrimSpace(ref)] = strings.TrimSpace(tenant)
	}
	return &Static{tenants: m, strict: strict}
}

func (s *Static) Resolve(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", apperrors.ValidationField("tenant_ref", "tenant reference is required")
	}
	if tenant, ok := s.tenants[ref]; ok && tenant != "" {
		return tenant, nil
	}
	if s.strict {
		return "", apperrors.NotFoundf("no credentials configured for tenant reference %q", ref)
	}
	return ref, nil
}
