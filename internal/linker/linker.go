// Package linker randomiza a ordem dos argumentos do linker que não altera
// a semântica do link (diretórios de busca e arquivos objeto).
package linker

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/khevencolino/Acaso/internal/config"
	"github.com/khevencolino/Acaso/internal/debug"
	"github.com/khevencolino/Acaso/internal/retry"
	"github.com/khevencolino/Acaso/internal/rng"
	"github.com/khevencolino/Acaso/internal/toolchain"
)

// MaxAttempts é o número de links randomizados antes de voltar à ordem original
const MaxAttempts = 6

// valueOptions recebem o valor no argumento seguinte
var valueOptions = []string{
	"-L", "-o", "-T", "-m", "-e", "-z", "-h", "-soname", "-rpath", "-rpath-link",
	"-dynamic-linker", "-plugin", "-plugin-opt", "--sysroot", "-Map", "-version-script",
	"--version-script", "-y", "-u", "-a",
}

// IsRandomizable indica um argumento cuja posição relativa a vizinhos da
// mesma classe não muda o resultado do link. Os objetos de inicialização
// (crt1.o, crti.o, crtbegin.o, ...) montam .init/.fini pela ordem e ficam fixos.
func IsRandomizable(arg string) bool {
	if strings.HasPrefix(arg, "-L") {
		return true
	}
	return strings.HasSuffix(arg, ".o") && !strings.HasPrefix(filepath.Base(arg), "crt")
}

// Run é uma sequência de argumentos consecutivos da mesma classe
type Run struct {
	Randomizable bool
	Units        [][]string // Cada unidade é um argumento, ou uma opção e seu valor
}

// Args retorna os argumentos do run, em ordem
func (r Run) Args() []string {
	return lo.Flatten(r.Units)
}

// units agrupa cada opção com valor separado junto ao seu valor
func units(args []string) [][]string {
	var out [][]string
	for i := 0; i < len(args); i++ {
		if lo.Contains(valueOptions, args[i]) && i+1 < len(args) {
			out = append(out, []string{args[i], args[i+1]})
			i++
			continue
		}
		out = append(out, []string{args[i]})
	}
	return out
}

func unitRandomizable(unit []string) bool {
	if len(unit) == 2 {
		return unit[0] == "-L"
	}
	return IsRandomizable(unit[0])
}

// Group divide os argumentos em runs de mesma classe
func Group(args []string) []Run {
	var runs []Run
	for _, unit := range units(args) {
		r := unitRandomizable(unit)
		if len(runs) == 0 || runs[len(runs)-1].Randomizable != r {
			runs = append(runs, Run{Randomizable: r})
		}
		last := &runs[len(runs)-1]
		last.Units = append(last.Units, unit)
	}
	return runs
}

// Shuffle embaralha só o conteúdo dos runs randomizáveis; a ordem dos runs
// e os argumentos fixos são mantidos
func Shuffle(args []string, src rng.Source) []string {
	runs := Group(args)
	for _, run := range runs {
		if !run.Randomizable {
			continue
		}
		src.Shuffle(len(run.Units), func(i, j int) { run.Units[i], run.Units[j] = run.Units[j], run.Units[i] })
	}
	return lo.Flatten(lo.Map(runs, func(run Run, _ int) []string { return run.Args() }))
}

// LinkError indica um link que falhou
type LinkError struct {
	Args       []string
	Randomized bool
	Err        error
}

func (e *LinkError) Error() string {
	ordem := "original"
	if e.Randomized {
		ordem = "randomizada"
	}
	return fmt.Sprintf("erro ao ligar (ordem %s): %v", ordem, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// Randomizer é o wrapper do linker
type Randomizer struct {
	Enabled bool             // Randomizar a ordem?
	Tool    string           // Linker real
	Runner  toolchain.Runner // Executa o linker
	Rand    rng.Source       // Fonte de aleatoriedade
	Output  io.Writer        // Recebe a saída do link bem-sucedido
}

// New cria o wrapper a partir da política
func New(policy config.Policy, runner toolchain.Runner, src rng.Source) *Randomizer {
	return &Randomizer{
		Enabled: policy.Linker,
		Tool:    policy.UsedLd,
		Runner:  runner,
		Rand:    src,
		Output:  toolchain.Stdout,
	}
}

// Link executa o linker real, com os argumentos embaralhados se randomize
func (r *Randomizer) Link(ctx context.Context, args []string, randomize bool) error {
	used := args
	if randomize {
		used = Shuffle(args, r.Rand)
	}
	output, err := r.Runner.Run(ctx, r.Tool, used)
	if err != nil {
		return &LinkError{Args: used, Randomized: randomize, Err: err}
	}
	toolchain.Forward(r.Output, output)
	return nil
}

// Process liga com a ordem randomizada até MaxAttempts vezes e, se todas
// falharem, com a ordem original. Só a falha na ordem original é propagada.
func (r *Randomizer) Process(ctx context.Context, args []string) error {
	if !r.Enabled {
		return r.Link(ctx, args, false)
	}
	policy := retry.Policy{
		Name:        "ld",
		MaxAttempts: MaxAttempts,
		Fallback: func(ctx context.Context) error {
			debug.Printf("ld: ligando na ordem original\n")
			return r.Link(ctx, args, false)
		},
	}
	return policy.Do(ctx, func(ctx context.Context, _ int) error {
		return r.Link(ctx, args, true)
	})
}
