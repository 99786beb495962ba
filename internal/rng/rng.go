// Package rng fornece a fonte de aleatoriedade usada pelas transformações.
// Produção usa uma semente aleatória; testes injetam uma fonte com semente fixa.
package rng

import (
	"math/rand/v2"
)

// Source é o gerador consumido pelas transformações
type Source interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

// New cria uma fonte com semente não reprodutível
func New() Source {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewSeeded cria uma fonte determinística
func NewSeeded(seed uint64) Source {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Range é um intervalo semiaberto [Min, Max) percorrido em passos de Step
type Range struct {
	Min  int
	Max  int
	Step int
}

// Upto cria o intervalo [0, max) com passo 1
func Upto(max int) Range {
	return Range{Min: 0, Max: max, Step: 1}
}

// Len retorna quantos valores o intervalo contém
func (r Range) Len() int {
	step := r.step()
	if r.Max <= r.Min {
		return 0
	}
	return (r.Max - r.Min + step - 1) / step
}

// Draw sorteia um valor do intervalo; intervalos vazios retornam Min
func (r Range) Draw(src Source) int {
	n := r.Len()
	if n == 0 {
		return r.Min
	}
	return r.Min + r.step()*src.IntN(n)
}

func (r Range) step() int {
	if r.Step <= 0 {
		return 1
	}
	return r.Step
}
