package utils

import (
	"fmt"
	"strings"
)

// AsmError representa um erro no processamento de um arquivo assembly,
// opcionalmente com a linha onde ocorreu
type AsmError struct {
	Mensagem string // Mensagem de erro
	Linha    int    // Linha (a partir de 1) onde ocorreu o erro, 0 se desconhecida
	Detalhes string // Detalhes adicionais do erro
	Causa    error  // Erro original, se houver
}

// Error implementa a interface error
func (e *AsmError) Error() string {
	var builder strings.Builder
	builder.WriteString(e.Mensagem)
	if e.Linha > 0 {
		builder.WriteString(" em linha ")
		builder.WriteString(fmt.Sprintf("%d", e.Linha))
	}
	if e.Detalhes != "" {
		builder.WriteString(" (")
		builder.WriteString(e.Detalhes)
		builder.WriteString(")")
	}
	return builder.String()
}

// Unwrap expõe a causa para errors.Is / errors.As
func (e *AsmError) Unwrap() error {
	return e.Causa
}

// NovoErro cria um novo erro de processamento
func NovoErro(mensagem string, linha int, detalhes string) *AsmError {
	return &AsmError{
		Mensagem: mensagem,
		Linha:    linha,
		Detalhes: detalhes,
	}
}

// EnvolverErro cria um erro de processamento a partir de uma causa
func EnvolverErro(mensagem string, causa error) *AsmError {
	detalhes := ""
	if causa != nil {
		detalhes = causa.Error()
	}
	return &AsmError{
		Mensagem: mensagem,
		Detalhes: detalhes,
		Causa:    causa,
	}
}
