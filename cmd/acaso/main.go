package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/khevencolino/Acaso/internal/asm"
	"github.com/khevencolino/Acaso/internal/config"
	"github.com/khevencolino/Acaso/internal/debug"
	"github.com/khevencolino/Acaso/internal/linker"
	"github.com/khevencolino/Acaso/internal/processor"
	"github.com/khevencolino/Acaso/internal/rng"
	"github.com/khevencolino/Acaso/internal/toolchain"
)

func main() {
	os.Exit(executar(os.Args, os.Getenv, toolchain.Exec{}))
}

// executar despacha pelo nome do programa: instalado como "as" ou "ld"
// funciona como wrapper da ferramenta real, senão processa arquivos
func executar(argv []string, getenv func(string) string, runner toolchain.Runner) int {
	ctx := context.Background()
	switch filepath.Base(argv[0]) {
	case "as":
		return executarWrapper(getenv, func(policy config.Policy) error {
			return processor.NewAssembler(policy, runner, rng.New()).Run(ctx, argv[1:])
		})
	case "ld":
		return executarWrapper(getenv, func(policy config.Policy) error {
			return linker.New(policy, runner, rng.New()).Process(ctx, argv[1:])
		})
	}

	opcoes, err := processarArgumentos(argv[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Erro: %v\n", err)
		return 2
	}
	if opcoes.ajuda {
		mostrarAjuda(os.Stdout)
		return 0
	}
	debug.Enabled = opcoes.debug

	cfg, err := config.ParseAssembly([]byte(opcoes.configuracao))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Erro: %v\n", err)
		return 2
	}
	src := rng.New()
	if opcoes.semente != 0 {
		src = rng.NewSeeded(opcoes.semente)
	}
	p, err := processor.New(cfg, src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Erro: %v\n", err)
		return 2
	}

	for _, arquivo := range opcoes.arquivos {
		if err := p.Process(arquivo, opcoes.pequeno); err != nil {
			fmt.Fprintf(os.Stderr, "Erro em %s: %v\n", arquivo, err)
			return 1
		}
		if opcoes.arvore {
			f, err := asm.Load(arquivo)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Erro em %s: %v\n", arquivo, err)
				return 1
			}
			f.ImprimirArvore()
		}
	}
	return 0
}

func executarWrapper(getenv func(string) string, wrapper func(config.Policy) error) int {
	policy, err := config.FromEnv(getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Erro: %v\n", err)
		return 1
	}
	debug.Enabled = policy.Debug
	if err := wrapper(policy); err != nil {
		fmt.Fprintf(os.Stderr, "Erro: %v\n", err)
		return toolchain.ExitCode(err)
	}
	return 0
}

type opcoes struct {
	configuracao string
	pequeno      bool
	arvore       bool
	debug        bool
	ajuda        bool
	semente      uint64
	arquivos     []string
}

func processarArgumentos(args []string) (opcoes, error) {
	var o opcoes
	flags := flag.NewFlagSet("acaso", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&o.configuracao, "config", "{}", "Transformações em JSON (heap, stack, bss, data, rodata, file_structure)")
	flags.BoolVar(&o.pequeno, "pequeno", false, "Só pequenas mudanças na estrutura do arquivo")
	flags.BoolVar(&o.arvore, "arvore", false, "Mostra as seções do arquivo resultante")
	flags.BoolVar(&o.debug, "debug", false, "Ativar mensagens de debug")
	flags.Uint64Var(&o.semente, "semente", 0, "Semente fixa (0: aleatória)")
	flags.BoolVar(&o.ajuda, "help", false, "Mostra ajuda")

	if err := flags.Parse(args); err != nil {
		return opcoes{}, err
	}
	if o.ajuda {
		return o, nil
	}
	o.arquivos = flags.Args()
	if len(o.arquivos) < 1 {
		return opcoes{}, fmt.Errorf("arquivo de entrada requerido")
	}
	return o, nil
}

func mostrarAjuda(w io.Writer) {
	fmt.Fprintf(w, `Acaso - Randomização de layout de programas

USO:
    acaso [flags] <arquivo.s>...
    as <argumentos>        (instalado como wrapper do assembler)
    ld <argumentos>        (instalado como wrapper do linker)

FLAGS:
    -config=<json>      Transformações (padrão: {}, tudo desligado)
    -pequeno            Só troca seções vizinhas
    -arvore             Mostra as seções e labels do resultado
    -semente=<n>        Semente fixa
    -debug              Ativar mensagens de debug
    -help               Mostra esta ajuda

WRAPPERS:
    Os wrappers leem a política da variável %s:
    {"heap": 64, "stack": 128, "bss": true, "data": true, "rodata": true,
     "file_structure": true, "linker": true, "used_as": "%s",
     "used_ld": "%s", "debug": false}

EXEMPLOS:
    acaso -config='{"stack": 64}' prog.s
    acaso -config='{"file_structure": true}' -pequeno -arvore prog.s
`, config.EnvVar, config.DefaultAs, config.DefaultLd)
}
