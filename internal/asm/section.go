package asm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/khevencolino/Acaso/internal/rng"
	"github.com/khevencolino/Acaso/internal/utils"
)

// SectionKind distingue seções comuns de seções com código de função
type SectionKind int

const (
	PlainSection SectionKind = iota
	FunctionSection
)

func (k SectionKind) String() string {
	switch k {
	case PlainSection:
		return "seção"
	case FunctionSection:
		return "função"
	default:
		panic(fmt.Sprintf("tipo de seção desconhecido: %d", int(k)))
	}
}

// Arch define onde está o tamanho pedido a malloc: %rdi (64 bits) ou o topo
// da pilha (32 bits)
type Arch int

const (
	Arch64 Arch = iota
	Arch32
)

// firmBeginPattern reconhece o comentário que o cparser/libFirm emite antes de cada função
var firmBeginPattern = regexp.MustCompile(`^#[- ]* Begin `)

// allocFunctions recebem o tamanho no primeiro argumento
var allocFunctions = []string{"malloc", "calloc", "_Znwm", "_Znam"}

// attributeDirectives descrevem o símbolo do label seguinte e andam com ele
var attributeDirectives = []string{".align", ".p2align", ".balign", ".globl", ".global", ".local", ".weak", ".hidden", ".type", ".size"}

// segmentEnds encerram uma ocorrência de segmento: trocam a seção corrente
// ou, como .ident, pertencem ao fim do arquivo
var segmentEnds = []string{".section", ".text", ".data", ".bss", ".previous", ".pushsection", ".popsection", ".subsection", ".ident"}

// shuffledSegments são os segmentos cujos sub-trechos podem ser embaralhados
var shuffledSegments = []string{"bss", "data", "rodata"}

// Section é um grupo ordenado de linhas do arquivo
type Section struct {
	kind  SectionKind
	lines []Line
}

// FromLines cria uma seção; ela é uma FunctionSection se alguma linha é um
// label de função ou o marcador de início de função do libFirm
func FromLines(lines []Line) Section {
	kind := PlainSection
	if lo.SomeBy(lines, func(l Line) bool {
		return l.IsFunctionLabel() || firmBeginPattern.MatchString(l.Content)
	}) {
		kind = FunctionSection
	}
	return Section{kind: kind, lines: lines}
}

// Kind retorna o tipo da seção
func (s Section) Kind() SectionKind { return s.kind }

// Lines retorna as linhas da seção
func (s Section) Lines() []Line { return s.lines }

// Len retorna o número de linhas
func (s Section) Len() int { return len(s.lines) }

// Labels retorna os labels da seção, em ordem
func (s Section) Labels() []string {
	return lo.FilterMap(s.lines, func(l Line, _ int) (string, bool) {
		return l.Label(), l.IsLabel()
	})
}

func (s Section) String() string {
	return strings.Join(lo.Map(s.lines, func(l Line, _ int) string { return l.Content }), "\n")
}

// StartsWithSegmentStatement indica se a primeira linha não vazia abre um segmento
func (s Section) StartsWithSegmentStatement() bool {
	for _, line := range s.lines {
		if line.IsSegmentStatement() {
			return true
		}
		if !line.IsBlank() {
			return false
		}
	}
	return false
}

// withLines cria uma nova seção do mesmo tipo
func (s Section) withLines(lines []Line) Section {
	return Section{kind: s.kind, lines: lines}
}

// RandomizeSegment embaralha os trechos delimitados por labels dentro de cada
// ocorrência do segmento dado. A ordem das linhas dentro de cada trecho é
// mantida, assim os dados continuam presos ao seu label.
func (s Section) RandomizeSegment(name string, src rng.Source) (Section, error) {
	if !lo.Contains(shuffledSegments, name) {
		return s, utils.NovoErro("segmento não pode ser embaralhado", 0, name)
	}
	lines := append([]Line(nil), s.lines...)
	starts := []string{"." + name, ".section ." + name}
	i := 0
	for i < len(lines) {
		for i < len(lines) && !(lines[i].IsStatement() && lo.SomeBy(starts, lines[i].StartsWith)) {
			i++
		}
		if i == len(lines) {
			break
		}
		j := i + 1
		for j < len(lines) && !endsSegment(lines[j]) {
			j++
		}
		prefix, runs := labelRuns(lines[i+1 : j])
		src.Shuffle(len(runs), func(a, b int) { runs[a], runs[b] = runs[b], runs[a] })
		copy(lines[i+1+len(prefix):j], lo.Flatten(runs))
		i = j
	}
	return s.withLines(lines), nil
}

func endsSegment(l Line) bool {
	if l.SplitSectionBefore() {
		return true
	}
	st, ok := statementOf(l)
	return ok && lo.Contains(segmentEnds, st.Opcode)
}

func isAttribute(l Line) bool {
	st, ok := statementOf(l)
	return ok && lo.Contains(attributeDirectives, st.Opcode)
}

// labelRuns divide as linhas em trechos, um por label (labels seguidos
// ficam juntos). Cada trecho começa nas diretivas de atributo logo antes do
// seu label, assim .align e .type acompanham os dados. As linhas antes do
// primeiro trecho formam o prefixo, que não se move.
func labelRuns(lines []Line) (prefix []Line, runs [][]Line) {
	var starts []int
	for i, line := range lines {
		if !line.IsLabel() || (i > 0 && lines[i-1].IsLabel()) {
			continue
		}
		start := i
		for start > 0 && isAttribute(lines[start-1]) {
			start--
		}
		starts = append(starts, start)
	}
	if len(starts) == 0 {
		return lines, nil
	}
	for k, start := range starts {
		end := len(lines)
		if k+1 < len(starts) {
			end = starts[k+1]
		}
		runs = append(runs, lines[start:end])
	}
	return lines[:starts[0]], runs
}

// RandomizeMallocCalls insere, antes de cada chamada de alocação, um ajuste
// aleatório no tamanho pedido
func (s Section) RandomizeMallocCalls(padding rng.Range, src rng.Source, arch Arch) Section {
	lines := make([]Line, 0, len(s.lines))
	for _, line := range s.lines {
		if st, ok := statementOf(line); ok && st.IsOpcode("call") && isAllocCall(st) {
			lines = append(lines, sizeAdjustment(padding.Draw(src), arch))
		}
		lines = append(lines, line)
	}
	return s.withLines(lines)
}

func isAllocCall(st Statement) bool {
	target := strings.TrimSuffix(st.FirstOperand(), "@PLT")
	return lo.Contains(allocFunctions, target)
}

func sizeAdjustment(amount int, arch Arch) Line {
	switch arch {
	case Arch64:
		return instructionf("addq $%d, %%rdi", amount)
	case Arch32:
		// cdecl: o primeiro argumento está no topo da pilha na hora do call
		return instructionf("addl $%d, (%%esp)", amount)
	default:
		panic(fmt.Sprintf("arquitetura desconhecida: %d", int(arch)))
	}
}
