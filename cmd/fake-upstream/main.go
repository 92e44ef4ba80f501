// fake-upstream imita a PokeAPI para testes locais do gateway:
//
//	gateway: GATEWAY_PROVIDER_BASE_URL=http://localhost:8081/api/v2/pokemon/
//
// Responde alguns pokémons fixos, 404 para o resto e registra cada chamada,
// o que deixa visível quando o cache do gateway está funcionando.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

var pokedex = map[string]map[string]any{
	"pikachu":    {"id": 25, "name": "pikachu", "types": []string{"electric"}},
	"bulbasaur":  {"id": 1, "name": "bulbasaur", "types": []string{"grass", "poison"}},
	"charmander": {"id": 4, "name": "charmander", "types": []string{"fire"}},
	"squirtle":   {"id": 7, "name": "squirtle", "types": []string{"water"}},
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	var calls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/pokemon/", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		name := strings.TrimPrefix(r.URL.Path, "/api/v2/pokemon/")
		logger.Info("upstream hit", "name", name, "calls", n)

		p, ok := pokedex[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p)
	})
	// alvo do proxy reverso (proxy.upstream_url)
	mux.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>"))
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger.Info("fake upstream listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
