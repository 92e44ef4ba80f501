// Package application contém os casos de uso do rate limit: resolver a chave
// do bucket pelo escopo e pedir a admissão ao BucketStore.
//
// Depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Guard(ctx, rc, "pokemon", cfg, fn) só executa fn se houver token.
package application
