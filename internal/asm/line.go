package asm

import (
	"fmt"
	"strings"

	"github.com/khevencolino/Acaso/internal/utils"
)

// DefaultSegments são os segmentos reconhecidos como fronteira de seção
var DefaultSegments = []string{"bss", "data", "rodata", "text"}

// Line representa uma linha do arquivo assembly (sem o separador de linha).
// Linhas são valores: uma transformação que muda o texto cria outra Line.
type Line struct {
	Content string // Conteúdo da linha
	Index   int    // Posição (a partir de 0) no arquivo, reatribuída após cada edição estrutural
}

// NewLine cria uma linha
func NewLine(content string, index int) Line {
	return Line{Content: content, Index: index}
}

func (l Line) String() string {
	return l.Content
}

// normalized remove espaços nas pontas e colapsa espaços internos
func (l Line) normalized() string {
	return strings.Join(strings.Fields(l.Content), " ")
}

// indent retorna os espaços no início da linha
func (l Line) indent() string {
	return l.Content[:len(l.Content)-len(strings.TrimLeft(l.Content, " \t"))]
}

// StartsWith compara o prefixo ignorando espaços nas pontas e espaços repetidos
func (l Line) StartsWith(prefix string) bool {
	return strings.HasPrefix(l.normalized(), prefix)
}

// IsBlank indica uma linha vazia ou só com espaços
func (l Line) IsBlank() bool {
	return strings.TrimSpace(l.Content) == ""
}

// IsComment indica uma linha de comentário (# ou /)
func (l Line) IsComment() bool {
	trimmed := strings.TrimSpace(l.Content)
	return strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "/")
}

// IsLabel indica se o primeiro token da linha define um label
func (l Line) IsLabel() bool {
	if l.IsComment() {
		return false
	}
	fields := strings.Fields(l.Content)
	return len(fields) > 0 && strings.Contains(fields[0], ":")
}

// Label retorna o nome do label ou "" se a linha não é um label
func (l Line) Label() string {
	if !l.IsLabel() {
		return ""
	}
	trimmed := strings.TrimSpace(l.Content)
	return trimmed[:strings.Index(trimmed, ":")]
}

// IsFunctionLabel indica um label global (que não começa com ".")
func (l Line) IsFunctionLabel() bool {
	return l.IsLabel() && !strings.HasPrefix(l.Label(), ".")
}

// IsStatement indica uma instrução ou diretiva
func (l Line) IsStatement() bool {
	return !l.IsLabel() && !l.IsComment() && !l.IsBlank()
}

// IsDirective indica uma diretiva do assembler (.text, .cfi_startproc, ...)
func (l Line) IsDirective() bool {
	return l.IsStatement() && strings.HasPrefix(strings.TrimSpace(l.Content), ".")
}

// IsInstruction indica uma instrução de máquina
func (l Line) IsInstruction() bool {
	return l.IsStatement() && !l.IsDirective()
}

// IsSegmentStatement indica uma diretiva que inicia um dos segmentos dados
// (DefaultSegments quando nenhum é informado)
func (l Line) IsSegmentStatement(names ...string) bool {
	if !l.IsStatement() {
		return false
	}
	if len(names) == 0 {
		names = DefaultSegments
	}
	for _, name := range names {
		if l.StartsWith("."+name) || l.StartsWith(".section ."+name) {
			return true
		}
	}
	return false
}

// SplitSectionBefore indica se uma nova seção começa nesta linha
func (l Line) SplitSectionBefore() bool {
	return l.IsBlank() || l.IsSegmentStatement() || l.Index == 0
}

// ToStatement decompõe a linha em opcode e operandos
func (l Line) ToStatement() (Statement, error) {
	if !l.IsStatement() {
		return Statement{}, utils.NovoErro("linha não é uma instrução", l.Index+1, l.Content)
	}
	trimmed := strings.TrimSpace(l.Content)
	st := Statement{Line: l, Opcode: trimmed}
	if sep := strings.IndexAny(trimmed, " \t"); sep >= 0 {
		st.Opcode = trimmed[:sep]
		st.Operands = strings.TrimSpace(trimmed[sep:])
	}
	return st, nil
}

// Statement é uma linha que codifica uma instrução ou diretiva
type Statement struct {
	Line
	Opcode   string // Primeiro token (mnemônico ou diretiva)
	Operands string // Restante da linha
}

// IsOpcode indica se o opcode é um dos nomes dados
func (s Statement) IsOpcode(names ...string) bool {
	for _, name := range names {
		if s.Opcode == name {
			return true
		}
	}
	return false
}

// FirstOperand retorna o primeiro token dos operandos
func (s Statement) FirstOperand() string {
	fields := strings.Fields(s.Operands)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// OperandsCompact retorna os operandos sem nenhum espaço, para comparação
func (s Statement) OperandsCompact() string {
	return strings.Join(strings.Fields(s.Operands), "")
}

// Is compara opcode e operandos ignorando espaços ("popq", "%rbp")
func (s Statement) Is(opcode, operands string) bool {
	return s.Opcode == opcode && s.OperandsCompact() == strings.Join(strings.Fields(operands), "")
}

// statementOf decompõe a linha, retornando ok=false para não instruções
func statementOf(l Line) (Statement, bool) {
	st, err := l.ToStatement()
	return st, err == nil
}

// instructionf cria uma linha nova, ainda sem posição no arquivo
func instructionf(format string, args ...interface{}) Line {
	return Line{Content: "\t" + fmt.Sprintf(format, args...), Index: -1}
}
