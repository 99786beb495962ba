package processor

import (
	"context"
	"io"
	"strings"

	"github.com/khevencolino/Acaso/internal/asm"
	"github.com/khevencolino/Acaso/internal/config"
	"github.com/khevencolino/Acaso/internal/debug"
	"github.com/khevencolino/Acaso/internal/retry"
	"github.com/khevencolino/Acaso/internal/rng"
	"github.com/khevencolino/Acaso/internal/toolchain"
	"github.com/khevencolino/Acaso/internal/utils"
)

const (
	fullAttempts  = 2 // Randomizações completas
	smallAttempts = 6 // Randomizações com pequenas mudanças na estrutura
)

// Assembler é o wrapper do as: randomiza o arquivo de entrada e chama o
// assembler real, tentando configurações cada vez mais conservadoras
type Assembler struct {
	Policy config.Policy
	Runner toolchain.Runner
	Rand   rng.Source
	Output io.Writer
}

// NewAssembler cria o wrapper a partir da política
func NewAssembler(policy config.Policy, runner toolchain.Runner, src rng.Source) *Assembler {
	return &Assembler{Policy: policy, Runner: runner, Rand: src, Output: toolchain.Stdout}
}

// inputFile retorna o arquivo assembly da chamada (o último argumento)
func inputFile(args []string) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	last := args[len(args)-1]
	if strings.HasPrefix(last, "-") {
		return "", false
	}
	return last, true
}

// Run processa a chamada do as (sem o nome do programa)
func (a *Assembler) Run(ctx context.Context, args []string) error {
	input, ok := inputFile(args)
	if !ok || !a.Policy.Enabled() {
		return a.assemble(ctx, args)
	}

	original, err := utils.LerArquivo(input)
	if err != nil {
		return err
	}
	if _, err := asm.Parse(original); err != nil {
		return err
	}
	restore := func() error {
		return utils.EscreverArquivo(input, original)
	}

	attempt := func(cfg config.Assembly, smallChanges bool) retry.Attempt {
		return func(ctx context.Context, _ int) error {
			p, err := New(cfg, a.Rand)
			if err != nil {
				return err
			}
			randomizado, err := p.Transform(original, smallChanges)
			if err != nil {
				return err
			}
			if err := utils.EscreverArquivo(input, randomizado); err != nil {
				return err
			}
			if err := a.assemble(ctx, args); err != nil {
				if restoreErr := restore(); restoreErr != nil {
					return restoreErr
				}
				return err
			}
			return nil
		}
	}
	step := func(name string, attempts int, cfg config.Assembly, smallChanges bool) func(context.Context) error {
		return func(ctx context.Context) error {
			return retry.Policy{Name: name, MaxAttempts: attempts}.Do(ctx, attempt(cfg, smallChanges))
		}
	}

	cfg := a.Policy.Assembly
	steps := []func(context.Context) error{
		step("as", fullAttempts, cfg, false),
		step("as (pequenas mudanças)", smallAttempts, cfg, true),
	}
	if cfg.FileStructure {
		semEstrutura := cfg
		semEstrutura.FileStructure = false
		steps = append(steps, func(ctx context.Context) error {
			debug.Printf("as: randomização da estrutura do arquivo desligada\n")
			return step("as (sem estrutura)", smallAttempts, semEstrutura, false)(ctx)
		})
	}
	steps = append(steps, func(ctx context.Context) error {
		if err := restore(); err != nil {
			return err
		}
		return a.assemble(ctx, args)
	})
	return retry.Chain(ctx, steps...)
}

func (a *Assembler) assemble(ctx context.Context, args []string) error {
	output, err := a.Runner.Run(ctx, a.Policy.UsedAs, args)
	if err != nil {
		return err
	}
	toolchain.Forward(a.Output, output)
	return nil
}
