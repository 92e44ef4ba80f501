// Package ratelimit fornece o adapter HTTP (net/http) do rate limit.
//
// Visão geral (camadas):
//
//   - domain: tipos, erros e o algoritmo de token bucket (sem net/http)
//   - application: resolução de chave por escopo e o serviço de admissão
//   - infra: stores concretos (Redis com script Lua, memória) e estatísticas
//   - ratelimit (este pacote): middleware HTTP, extração do endereço do
//     cliente e tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai o endereço (RemoteAddr, ou X-Forwarded-For se confiável)
//  2. Chama a camada application, que resolve a chave e consome no store
//  3. Negado: 429 com X-Rate-Limit-Retry-After-Seconds
//  4. Permitido: X-Rate-Limit-Remaining e chama o próximo handler
//
// Regras por operação vêm da config do binário gateway (rate_limits).
package ratelimit
