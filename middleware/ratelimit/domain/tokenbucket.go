package domain

import "time"

// NewBucketState cria o estado de um bucket que ainda não existe no store.
func NewBucketState(key Key, cfg BucketConfig, now time.Time) BucketState {
	tokens := cfg.InitialTokens
	if tokens > cfg.Capacity {
		tokens = cfg.Capacity
	}
	if tokens < 0 {
		tokens = 0
	}
	return BucketState{Key: key, AvailableTokens: tokens, LastRefillAt: now}
}

// Admit aplica o token bucket com recarga em degraus (não contínua).
//
// A cada intervalo inteiro decorrido desde LastRefillAt entram RefillAmount
// tokens, limitados a Capacity, e LastRefillAt avança só em intervalos
// inteiros: as recargas ficam ancoradas nas fronteiras do intervalo e não no
// horário de chegada das requisições.
//
// Consome 1 token se houver. Caso contrário informa quanto falta até a
// próxima fronteira. Função pura: quem persiste o novo estado é o BucketStore.
func Admit(state BucketState, cfg BucketConfig, now time.Time) (BucketState, AdmissionProbe) {
	interval := cfg.RefillInterval
	if cfg.Capacity <= 0 {
		return state, AdmissionProbe{NanosToWait: int64(interval)}
	}

	// relógio voltando (skew entre instâncias) conta como zero
	elapsed := now.Sub(state.LastRefillAt)
	if elapsed < 0 {
		elapsed = 0
	}

	if interval > 0 {
		if intervals := int64(elapsed / interval); intervals > 0 {
			state.AvailableTokens += grant(intervals, cfg.RefillAmount, cfg.Capacity-state.AvailableTokens)
			step := time.Duration(intervals) * interval
			state.LastRefillAt = state.LastRefillAt.Add(step)
			elapsed -= step
		}
	}

	if state.AvailableTokens > cfg.Capacity {
		state.AvailableTokens = cfg.Capacity
	}
	if state.AvailableTokens < 0 {
		state.AvailableTokens = 0
	}

	if state.AvailableTokens >= 1 {
		state.AvailableTokens--
		return state, AdmissionProbe{Consumed: true, RemainingTokens: state.AvailableTokens}
	}

	return state, AdmissionProbe{NanosToWait: int64(interval - elapsed)}
}

// grant = min(intervals*amount, room), sem estourar int64 em intervalos longos.
func grant(intervals, amount, room int64) int64 {
	if amount <= 0 || room <= 0 {
		return 0
	}
	if intervals > room/amount {
		return room
	}
	return intervals * amount
}
