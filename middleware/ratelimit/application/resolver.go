package application

import (
	"fmt"
	"net/netip"
	"strings"

	"cache-ratelimit/middleware/ratelimit/domain"
)

// ResolveKey deriva a chave do bucket. Não mexe em estado.
//
//   - GLOBAL: uma chave fixa por operação
//   - IP: endereço do cliente visto pelo transporte (IPv4 mapeado em IPv6 vira IPv4)
//   - USER: identidade autenticada; sem ela falha fechado
//
// Nunca cai para uma chave vazia ou compartilhada quando falta informação.
func ResolveKey(rc domain.RequestContext, operation string, scope domain.Scope) (domain.Key, error) {
	switch scope {
	case domain.ScopeGlobal:
		return domain.FormatKey(scope, operation, ""), nil

	case domain.ScopeIP:
		addr := strings.TrimSpace(rc.ClientAddr)
		if addr == "" {
			return "", fmt.Errorf("%w: client address unknown", domain.ErrScopeResolutionFailed)
		}
		if ip, err := netip.ParseAddr(addr); err == nil {
			addr = ip.Unmap().String()
		}
		return domain.FormatKey(scope, operation, addr), nil

	case domain.ScopeUser:
		id := strings.TrimSpace(rc.Identity)
		if id == "" {
			return "", fmt.Errorf("%w: no authenticated identity for USER scope", domain.ErrScopeResolutionFailed)
		}
		return domain.FormatKey(scope, operation, id), nil
	}

	return "", fmt.Errorf("%w: unknown scope %q", domain.ErrScopeResolutionFailed, scope)
}
