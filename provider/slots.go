package provider

import "context"

// Slots é um semáforo simples baseado em channel que limita chamadas
// simultâneas ao provedor. Um *Slots nil não limita nada.
type Slots struct {
	sem chan struct{}
}

// NewSlots cria um pool com capacidade max. max <= 0 devolve nil (sem limite).
func NewSlots(max int) *Slots {
	if max <= 0 {
		return nil
	}
	return &Slots{sem: make(chan struct{}, max)}
}

// Acquire espera uma vaga até ctx acabar. ok=false significa que não houve vaga.
func (p *Slots) Acquire(ctx context.Context) (release func(), ok bool) {
	if p == nil {
		return func() {}, true
	}
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *Slots) InFlight() int {
	if p == nil {
		return 0
	}
	return len(p.sem)
}
