// Package cmd contém os comandos de linha de comando do gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Gateway HTTP com rate limit distribuído e cache de respostas",
	Long: `gateway protege GET /api/v1/pokemon/?nome=<nome> com um token bucket
por cliente guardado no Redis (compartilhado entre instâncias) e evita
chamadas repetidas ao provedor com um cache de respostas.

Configuração:
  Lida de ./gateway.yaml ou /etc/gateway/gateway.yaml (ou --config).
  Variáveis com prefixo GATEWAY_ sobrescrevem qualquer chave.
  Exemplo: GATEWAY_SERVER_LISTEN_ADDR=:9090

Sem subcomando, equivale a "gateway serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./gateway.yaml)")
}
