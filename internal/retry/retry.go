// Package retry implementa "tente N vezes, depois use o plano B".
package retry

import (
	"context"
	"errors"

	"github.com/khevencolino/Acaso/internal/debug"
)

// Attempt é uma tentativa; n começa em 1
type Attempt func(ctx context.Context, n int) error

// Policy limita as tentativas e define o que fazer quando todas falham
type Policy struct {
	Name        string                          // Nome usado nas mensagens de debug
	MaxAttempts int                             // Número máximo de tentativas
	Fallback    func(ctx context.Context) error // Executado quando todas as tentativas falham; nil propaga a última falha
}

// Do executa as tentativas em sequência e retorna na primeira que tiver sucesso
func (p Policy) Do(ctx context.Context, attempt Attempt) error {
	var last error
	for n := 1; n <= p.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = attempt(ctx, n)
		if last == nil {
			return nil
		}
		debug.Printf("%s: tentativa %d/%d falhou: %v\n", p.Name, n, p.MaxAttempts, last)
	}
	if p.Fallback == nil {
		if last == nil {
			return errors.New(p.Name + ": nenhuma tentativa executada")
		}
		return last
	}
	debug.Printf("%s: usando o plano B\n", p.Name)
	return p.Fallback(ctx)
}

// Chain executa os passos em ordem até um deles ter sucesso; a última
// falha é retornada
func Chain(ctx context.Context, steps ...func(ctx context.Context) error) error {
	var last error
	for _, step := range steps {
		if last = step(ctx); last == nil {
			return nil
		}
	}
	return last
}
