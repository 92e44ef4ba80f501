package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Key string

var (
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrStoreUnavailable      = errors.New("bucket store unavailable")
	ErrScopeResolutionFailed = errors.New("rate limit scope resolution failed")
	ErrInvalidConfig         = errors.New("invalid bucket config")
)

// Scope define a dimensão pela qual o estado do rate limit é particionado.
type Scope string

const (
	ScopeGlobal Scope = "GLOBAL"
	ScopeIP     Scope = "IP"
	ScopeUser   Scope = "USER"
)

// ParseScope aceita o nome do escopo sem diferenciar maiúsculas.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToUpper(strings.TrimSpace(s))) {
	case ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeIP:
		return ScopeIP, nil
	case ScopeUser:
		return ScopeUser, nil
	}
	return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidConfig, s)
}

// FormatKey monta a chave do bucket: "{scope}:{operation}[:{value}]".
// GLOBAL ignora value: todas as requisições da operação caem no mesmo bucket.
func FormatKey(scope Scope, operation, value string) Key {
	prefix := strings.ToLower(string(scope)) + ":" + operation
	if scope == ScopeGlobal {
		return Key(prefix)
	}
	return Key(prefix + ":" + value)
}

// BucketConfig é estática por operação protegida e nunca é persistida.
type BucketConfig struct {
	Capacity       int64
	RefillAmount   int64
	RefillInterval time.Duration
	InitialTokens  int64
	Scope          Scope
}

// Validate checa as invariantes que o algoritmo assume.
// Capacity == 0 é permitido (nega sempre).
func (c BucketConfig) Validate() error {
	switch {
	case c.Capacity < 0:
		return fmt.Errorf("%w: capacity must be >= 0", ErrInvalidConfig)
	case c.Capacity > 0 && c.RefillAmount <= 0:
		return fmt.Errorf("%w: refill amount must be > 0", ErrInvalidConfig)
	case c.RefillInterval < time.Millisecond:
		return fmt.Errorf("%w: refill interval must be at least 1ms", ErrInvalidConfig)
	case c.RefillInterval%time.Millisecond != 0:
		// o store compartilhado guarda tempos em milissegundos
		return fmt.Errorf("%w: refill interval must be a whole number of milliseconds", ErrInvalidConfig)
	case c.InitialTokens < 0 || c.InitialTokens > c.Capacity:
		return fmt.Errorf("%w: initial tokens must be between 0 and capacity", ErrInvalidConfig)
	}
	if _, err := ParseScope(string(c.Scope)); err != nil {
		return err
	}
	return nil
}

// FillTime é quanto um bucket parado leva para encher do zero, mais um
// intervalo. Um bucket ocioso há mais tempo que isso já estaria cheio, então
// descartá-lo e recriá-lo com InitialTokens (<= Capacity) não dá tokens a mais.
func (c BucketConfig) FillTime() time.Duration {
	if c.Capacity <= 0 || c.RefillAmount <= 0 {
		return c.RefillInterval
	}
	refills := (c.Capacity + c.RefillAmount - 1) / c.RefillAmount
	return c.RefillInterval * time.Duration(refills+1)
}

// BucketState é o registro persistido no store compartilhado, um por chave.
type BucketState struct {
	Key             Key
	AvailableTokens int64
	LastRefillAt    time.Time
}

// AdmissionProbe é o resultado efêmero de uma avaliação.
// RemainingTokens só vale quando Consumed; NanosToWait só quando !Consumed.
type AdmissionProbe struct {
	Consumed        bool
	RemainingTokens int64
	NanosToWait     int64
}

// RetryAfter devolve a espera como time.Duration.
func (p AdmissionProbe) RetryAfter() time.Duration {
	return time.Duration(p.NanosToWait)
}

// BucketStore é o adaptador do store compartilhado.
//
// AtomicUpdate lê o estado de key (ou sintetiza o inicial), aplica Admit e
// grava o novo estado como uma operação indivisível frente a outros
// chamadores da mesma key, inclusive em outros processos.
type BucketStore interface {
	AtomicUpdate(ctx context.Context, key Key, cfg BucketConfig, now time.Time) (AdmissionProbe, error)
}

// RateLimitError é devolvido quando a admissão nega a requisição.
type RateLimitError struct {
	Key        Key
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Key, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// RetryAfterSeconds arredonda para cima: 1ns de espera vira 1s.
func (e *RateLimitError) RetryAfterSeconds() int64 {
	return CeilSeconds(e.RetryAfter)
}

func CeilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

// RequestContext é a visão mínima da requisição que o resolvedor precisa.
// Identity vem de um colaborador de autenticação; vazio quando não há.
type RequestContext struct {
	ClientAddr string
	Identity   string
	Method     string
	Path       string
}
