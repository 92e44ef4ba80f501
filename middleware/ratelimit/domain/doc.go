// Package domain define contratos e tipos de domínio do rate limit distribuído.
//
// Aqui vivem o estado do bucket, a configuração por operação protegida, o
// resultado de uma admissão (AdmissionProbe) e o algoritmo de token bucket
// (Admit), que é uma função pura: sem I/O, sem relógio próprio.
//
// Este pacote não depende de net/http nem de Redis. A atomicidade do
// read-modify-write fica a cargo das implementações de BucketStore (infra).
package domain
