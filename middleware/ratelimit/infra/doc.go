// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisBucketStore: token bucket compartilhado, atualizado por script Lua
//   - MemoryBucketStore: token bucket por processo, com limpeza de chaves inativas
//   - MemoryStatsStore, RedisStatsStore, PrometheusStatsStore: estatísticas de decisões
package infra
