package asm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/khevencolino/Acaso/internal/debug"
	"github.com/khevencolino/Acaso/internal/rng"
	"github.com/khevencolino/Acaso/internal/utils"
)

// ErrUnsupportedAssembler indica um arquivo que não veio de nenhum dos
// geradores suportados
var ErrUnsupportedAssembler = errors.New("assembler não suportado")

// Dialect identifica o gerador de código que produziu o arquivo
type Dialect int

const (
	DialectFirm Dialect = iota + 1 // cparser/libFirm: funções marcadas com "# -- Begin", seções separadas por linhas vazias
	DialectGCC                     // GCC: diretivas .cfi, seções separadas por .text e diretivas de segmento
)

func (d Dialect) String() string {
	switch d {
	case DialectFirm:
		return "libfirm"
	case DialectGCC:
		return "gcc"
	default:
		return "desconhecido"
	}
}

// span delimita uma seção dentro do vetor de linhas do arquivo
type span struct {
	start, end int
	kind       SectionKind
}

// File é um arquivo assembly completo. As linhas são a verdade; a partição
// em seções é derivada e recalculada após cada edição estrutural.
// A maioria dos métodos altera o arquivo diretamente.
type File struct {
	lines   []Line
	spans   []span
	dialect Dialect
	arch    Arch
}

// Parse cria um arquivo a partir do texto assembly
func Parse(text string) (*File, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	var raw []string
	if text != "" {
		raw = strings.Split(text, "\n")
	}
	return ParseLines(raw)
}

// ParseLines cria um arquivo a partir das linhas (sem separadores)
func ParseLines(raw []string) (*File, error) {
	f := &File{
		lines: lo.Map(raw, func(content string, i int) Line { return NewLine(content, i) }),
	}
	dialect, err := detectDialect(f.lines)
	if err != nil {
		return nil, err
	}
	f.dialect = dialect
	f.arch = detectArch(f.lines)
	f.partition()
	return f, nil
}

// Load lê e analisa um arquivo assembly do disco
func Load(path string) (*File, error) {
	conteudo, err := utils.LerArquivo(path)
	if err != nil {
		return nil, err
	}
	return Parse(conteudo)
}

// Save sobrescreve o arquivo com o texto atual
func (f *File) Save(path string) error {
	return utils.EscreverArquivo(path, f.String())
}

func hostArch() Arch {
	if strconv.IntSize == 64 {
		return Arch64
	}
	return Arch32
}

// detectArch deduz a largura dos registradores pelo próprio arquivo:
// .code32/.code64, ou os registradores usados pelas instruções. Sem
// indícios vale a largura do host.
func detectArch(lines []Line) Arch {
	for _, line := range lines {
		switch {
		case line.StartsWith(".code32"):
			return Arch32
		case line.StartsWith(".code64"):
			return Arch64
		}
	}
	operands := lo.FilterMap(lines, func(l Line, _ int) (string, bool) {
		st, ok := statementOf(l)
		return st.Operands, ok && l.IsInstruction()
	})
	switch {
	case lo.SomeBy(operands, func(o string) bool { return strings.Contains(o, "%r") }):
		return Arch64
	case lo.SomeBy(operands, func(o string) bool { return strings.Contains(o, "%esp") || strings.Contains(o, "%ebp") }):
		return Arch32
	default:
		return hostArch()
	}
}

// Arch retorna a largura usada no ajuste de malloc
func (f *File) Arch() Arch { return f.arch }

// SetArch muda a largura do registrador usado no ajuste de malloc
func (f *File) SetArch(arch Arch) { f.arch = arch }

// Dialect retorna o gerador detectado
func (f *File) Dialect() Dialect { return f.dialect }

// Lines retorna uma cópia das linhas do arquivo
func (f *File) Lines() []Line { return append([]Line(nil), f.lines...) }

func detectDialect(lines []Line) (Dialect, error) {
	if lo.SomeBy(lines, func(l Line) bool { return firmBeginPattern.MatchString(l.Content) }) {
		return DialectFirm, nil
	}
	if lo.SomeBy(lines, func(l Line) bool { return l.StartsWith(".cfi") }) {
		return DialectGCC, nil
	}
	return 0, utils.EnvolverErro("erro ao analisar arquivo assembly", ErrUnsupportedAssembler)
}

// splitsBefore indica se uma nova seção começa na linha, conforme o dialeto
func (f *File) splitsBefore(l Line) bool {
	switch f.dialect {
	case DialectFirm:
		return l.IsBlank()
	case DialectGCC:
		return strings.TrimSpace(l.Content) == ".text" || l.IsSegmentStatement()
	default:
		panic(fmt.Sprintf("dialeto desconhecido: %d", int(f.dialect)))
	}
}

// partition recalcula as seções a partir das linhas
func (f *File) partition() {
	f.spans = f.spans[:0]
	start := 0
	for i, line := range f.lines {
		if i > start && f.splitsBefore(line) {
			f.spans = append(f.spans, f.spanOf(start, i))
			start = i
		}
	}
	if start < len(f.lines) {
		f.spans = append(f.spans, f.spanOf(start, len(f.lines)))
	}
}

func (f *File) spanOf(start, end int) span {
	return span{start: start, end: end, kind: FromLines(f.lines[start:end]).Kind()}
}

// reindex reatribui as posições das linhas
func (f *File) reindex() {
	for i := range f.lines {
		f.lines[i].Index = i
	}
}

// Sections materializa as seções atuais
func (f *File) Sections() []Section {
	return lo.Map(f.spans, func(sp span, _ int) Section {
		return Section{kind: sp.kind, lines: append([]Line(nil), f.lines[sp.start:sp.end]...)}
	})
}

// rebuild substitui as linhas pela concatenação das seções e recalcula a partição
func (f *File) rebuild(sections []Section) {
	f.lines = lo.Flatten(lo.Map(sections, func(s Section, _ int) []Line { return s.lines }))
	f.reindex()
	f.partition()
}

func (f *File) String() string {
	if len(f.lines) == 0 {
		return ""
	}
	return strings.Join(lo.Map(f.lines, func(l Line, _ int) string { return l.Content }), "\n") + "\n"
}

// RandomizeFileStructure troca a posição relativa das seções internas; a
// primeira e a última nunca mudam de lugar. Com smallChanges cada par
// disjunto de vizinhos é trocado com probabilidade 1/2.
func (f *File) RandomizeFileStructure(smallChanges bool, src rng.Source) {
	if len(f.spans) < 3 {
		return
	}
	f.qualifySectionReentries()
	sections := f.Sections()
	inner := sections[1 : len(sections)-1]
	if smallChanges {
		for i := 0; i+1 < len(inner); i += 2 {
			if src.IntN(2) == 0 {
				inner[i], inner[i+1] = inner[i+1], inner[i]
			}
		}
	} else {
		src.Shuffle(len(inner), func(i, j int) { inner[i], inner[j] = inner[j], inner[i] })
	}
	f.rebuild(sections)
}

// qualifySectionReentries copia os atributos da primeira declaração completa
// de cada seção nomeada (.section .rodata.str1.1,"aMS",@progbits,1) para as
// reentradas sem atributos, assim qualquer uma delas pode vir primeiro
func (f *File) qualifySectionReentries() {
	attributes := make(map[string]string)
	for _, line := range f.lines {
		if name, attrs, ok := sectionDirective(line); ok && attrs != "" {
			if _, seen := attributes[name]; !seen {
				attributes[name] = attrs
			}
		}
	}
	for i, line := range f.lines {
		name, attrs, ok := sectionDirective(line)
		if !ok || attrs != "" {
			continue
		}
		if full, found := attributes[name]; found {
			f.lines[i].Content = line.indent() + ".section\t" + name + "," + full
		}
	}
}

// sectionDirective decompõe ".section nome,atributos"
func sectionDirective(l Line) (name, attrs string, ok bool) {
	st, isStatement := statementOf(l)
	if !isStatement || st.Opcode != ".section" {
		return "", "", false
	}
	name, attrs, _ = strings.Cut(st.Operands, ",")
	return strings.TrimSpace(name), strings.TrimSpace(attrs), true
}

// RandomizeStack sorteia um padding por FunctionSection e aumenta seus frames
func (f *File) RandomizeStack(padding rng.Range, src rng.Source) {
	sections := f.Sections()
	total := 0
	for i, section := range sections {
		switch section.Kind() {
		case PlainSection:
		case FunctionSection:
			padded, n := section.PadStack(padding.Draw(src))
			sections[i] = padded
			total += n
		default:
			panic(fmt.Sprintf("tipo de seção desconhecido: %d", int(section.Kind())))
		}
	}
	debug.Printf("  %d funções com frame aumentado\n", total)
	f.rebuild(sections)
}

// RandomizeSubSegments embaralha os sub-trechos do segmento dado em todas as seções
func (f *File) RandomizeSubSegments(name string, src rng.Source) error {
	sections := f.Sections()
	for i, section := range sections {
		shuffled, err := section.RandomizeSegment(name, src)
		if err != nil {
			return err
		}
		sections[i] = shuffled
	}
	f.rebuild(sections)
	return nil
}

// RandomizeMallocCalls adiciona um padding aleatório a cada chamada de alocação
func (f *File) RandomizeMallocCalls(padding rng.Range, src rng.Source) {
	sections := f.Sections()
	for i, section := range sections {
		sections[i] = section.RandomizeMallocCalls(padding, src, f.arch)
	}
	f.rebuild(sections)
}
