// Package toolchain executa as ferramentas reais (as, ld) como subprocessos.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/khevencolino/Acaso/internal/debug"
)

// Runner executa uma ferramenta e espera o término
type Runner interface {
	// Run captura stdout e stderr; um código de saída diferente de zero é um *ToolError
	Run(ctx context.Context, tool string, args []string) ([]byte, error)
}

// ToolError descreve uma execução que terminou com falha
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int // -1 se o processo nem chegou a rodar
	Output   []byte
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s falhou (código %d): %v", e.Tool, e.ExitCode, e.Err)
	if out := strings.TrimSpace(string(e.Output)); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ExitCode extrai o código de saída de um erro de execução, 1 se desconhecido
func ExitCode(err error) int {
	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr.ExitCode > 0 {
		return toolErr.ExitCode
	}
	return 1
}

// Exec é o Runner de produção
type Exec struct {
	Env []string // Ambiente do processo filho; nil herda o atual
}

// Run executa tool com args, sem shell e sem timeout
func (e Exec) Run(ctx context.Context, tool string, args []string) ([]byte, error) {
	debug.Printf("Executando: %s %s\n", tool, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Env = e.Env
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return output.Bytes(), &ToolError{Tool: tool, Args: args, ExitCode: code, Output: output.Bytes(), Err: err}
	}
	return output.Bytes(), nil
}

// Forward repassa a saída capturada de uma execução bem-sucedida
func Forward(w io.Writer, output []byte) {
	if len(output) > 0 {
		w.Write(output)
	}
}

// Stdout é o destino padrão de Forward
var Stdout io.Writer = os.Stdout
