package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// PadStack aumenta o frame de cada função da seção em amount bytes.
// Funções que não seguem o padrão pushq %rbp ... popq %rbp; ret ficam
// intactas. Retorna a nova seção e quantas funções foram alteradas.
func (s Section) PadStack(amount int) (Section, int) {
	switch s.kind {
	case PlainSection:
		return s, 0
	case FunctionSection:
	default:
		panic(fmt.Sprintf("tipo de seção desconhecido: %d", int(s.kind)))
	}
	if amount <= 0 {
		return s, 0
	}

	starts := lo.FilterMap(s.lines, func(l Line, i int) (int, bool) {
		return i, l.IsFunctionLabel()
	})
	if len(starts) == 0 {
		return s, 0
	}

	out := append([]Line(nil), s.lines[:starts[0]]...)
	padded := 0
	for k, start := range starts {
		end := len(s.lines)
		if k+1 < len(starts) {
			end = starts[k+1]
		}
		body := s.lines[start:end]
		if frame, ok := padFunction(body, amount); ok {
			out = append(out, frame...)
			padded++
		} else {
			out = append(out, body...)
		}
	}
	return s.withLines(out), padded
}

// padFunction recebe as linhas de uma função, a partir do seu label
func padFunction(body []Line, amount int) ([]Line, bool) {
	lines := expandLeave(body)

	push := -1
	for i, line := range lines {
		if st, ok := statementOf(line); ok && st.Is("pushq", "%rbp") {
			push = i
			break
		}
	}
	if push < 0 {
		return nil, false
	}
	entry := push + 1
	for entry < len(lines) && isCFI(lines[entry]) {
		entry++
	}

	if hasFramePointer(lines) {
		if readsAboveFrame(lines) {
			return nil, false
		}
	} else if addressesThroughRSP(lines) {
		return nil, false
	}

	pops, ok := matchEpilogues(lines, push)
	if !ok {
		return nil, false
	}

	withCFI := lo.SomeBy(lines, isCFI)
	cfaOnRBP := lo.SomeBy(lines, func(l Line) bool { return l.StartsWith(".cfi_def_cfa_register") })

	// Entre o padding de entrada e cada epílogo o CFA está amount bytes mais
	// longe; depois de cada ret o código volta a estar dentro do frame
	out := make([]Line, 0, len(lines)+2*len(pops)+2)
	inFrame := false
	for i, line := range lines {
		if i == entry {
			out = append(out, entryPadding(amount, withCFI)...)
			inFrame = true
		}
		if pops[i] {
			out = append(out, instructionf("addq $%d, %%rsp", amount))
			if withCFI && !cfaOnRBP {
				out = append(out, instructionf(".cfi_adjust_cfa_offset -%d", amount))
			}
			inFrame = false
		}
		if inFrame && isCFI(line) {
			shifted, ok := shiftCFI(line, amount)
			if !ok {
				return nil, false
			}
			line = shifted
		}
		out = append(out, line)
		if st, ok := statementOf(line); ok && isRet(st) && i > entry {
			inFrame = true
		}
	}
	return out, true
}

func entryPadding(amount int, withCFI bool) []Line {
	lines := []Line{instructionf("subq $%d, %%rsp", amount)}
	if withCFI {
		lines = append(lines, instructionf(".cfi_adjust_cfa_offset %d", amount))
	}
	return lines
}

// expandLeave troca cada leave pelas duas instruções equivalentes, para que
// nada seja inserido no meio da desmontagem do frame
func expandLeave(body []Line) []Line {
	out := make([]Line, 0, len(body))
	for _, line := range body {
		if st, ok := statementOf(line); ok && st.IsOpcode("leave", "leaveq") {
			out = append(out, instructionf("mov %%rbp, %%rsp"), instructionf("popq %%rbp"))
			continue
		}
		out = append(out, line)
	}
	return out
}

// matchEpilogues associa cada ret ao popq %rbp que o precede. Entre os dois
// só podem existir diretivas, comentários e pops de outros registradores.
// Falha se algum ret não tem epílogo reconhecível ou se algum popq %rbp
// não leva a um ret (por exemplo, tail call via jmp).
func matchEpilogues(lines []Line, push int) (map[int]bool, bool) {
	pops := make(map[int]bool)
	rets := 0
	for r := push + 1; r < len(lines); r++ {
		st, ok := statementOf(lines[r])
		if !ok || !isRet(st) {
			continue
		}
		rets++
		pop := epilogueBefore(lines, push, r)
		if pop < 0 {
			return nil, false
		}
		pops[pop] = true
	}
	if rets == 0 {
		return nil, false
	}
	framePops := lo.CountBy(lines[push+1:], func(l Line) bool {
		st, ok := statementOf(l)
		return ok && st.Is("popq", "%rbp")
	})
	return pops, framePops == len(pops)
}

func epilogueBefore(lines []Line, push, ret int) int {
	for k := ret - 1; k > push; k-- {
		line := lines[k]
		if line.IsLabel() {
			return -1
		}
		if !line.IsInstruction() {
			continue
		}
		st, _ := statementOf(line)
		switch {
		case st.Is("popq", "%rbp"):
			return k
		case st.IsOpcode("popq"):
			continue
		default:
			return -1
		}
	}
	return -1
}

func isRet(st Statement) bool {
	if st.IsOpcode("ret", "retq") {
		return true
	}
	return st.IsOpcode("rep", "repz") && lo.Contains([]string{"ret", "retq"}, st.FirstOperand())
}

func isCFI(l Line) bool {
	return l.StartsWith(".cfi_")
}

// cfaRegisters são as bases de CFA deslocadas junto com o frame
var cfaRegisters = []string{"6", "7", "%rbp", "%rsp", "rbp", "rsp"}

// shiftCFI corrige uma diretiva CFI com deslocamento absoluto para o frame
// aumentado em amount bytes. Diretivas que não sabemos corrigir retornam
// ok=false e a função fica intacta.
func shiftCFI(line Line, amount int) (Line, bool) {
	st, ok := statementOf(line)
	if !ok {
		return line, true
	}
	args := strings.Split(st.OperandsCompact(), ",")
	switch st.Opcode {
	case ".cfi_def_cfa_offset":
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return line, false
		}
		return rewriteDirective(line, st.Opcode, strconv.Itoa(n+amount)), true
	case ".cfi_offset":
		if len(args) != 2 {
			return line, false
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return line, false
		}
		return rewriteDirective(line, st.Opcode, args[0]+", "+strconv.Itoa(n-amount)), true
	case ".cfi_def_cfa":
		if len(args) != 2 || !lo.Contains(cfaRegisters, args[0]) {
			return line, false
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return line, false
		}
		return rewriteDirective(line, st.Opcode, args[0]+", "+strconv.Itoa(n+amount)), true
	case ".cfi_escape", ".cfi_val_offset":
		return line, false
	default:
		return line, true
	}
}

func rewriteDirective(line Line, opcode, operands string) Line {
	return Line{Content: line.indent() + opcode + " " + operands, Index: line.Index}
}

func hasFramePointer(lines []Line) bool {
	return lo.SomeBy(lines, func(l Line) bool {
		st, ok := statementOf(l)
		return ok && (st.Is("movq", "%rsp, %rbp") || st.Is("mov", "%rsp, %rbp"))
	})
}

// readsAboveFrame indica acesso a argumentos passados na pilha, ao endereço
// de retorno ou à área de overflow de va_start (deslocamento >= 0 a partir
// de %rbp), que o padding logo após pushq %rbp separaria do frame
func readsAboveFrame(lines []Line) bool {
	return lo.SomeBy(lines, func(l Line) bool {
		if !l.IsInstruction() {
			return false
		}
		st, _ := statementOf(l)
		operands := st.OperandsCompact()
		for {
			at := strings.Index(operands, "(%rbp")
			if at < 0 {
				return false
			}
			if frameDisplacement(operands[:at]) >= 0 {
				return true
			}
			operands = operands[at+1:]
		}
	})
}

// frameDisplacement lê o deslocamento que termina o texto dado; sem número
// ou simbólico conta como 0
func frameDisplacement(prefix string) int {
	if i := strings.LastIndexAny(prefix, ",$("); i >= 0 {
		prefix = prefix[i+1:]
	}
	n, err := strconv.ParseInt(prefix, 0, 64)
	if err != nil {
		return 0
	}
	return int(n)
}

// addressesThroughRSP indica acesso à memória relativo a %rsp, que o
// deslocamento do frame invalidaria
func addressesThroughRSP(lines []Line) bool {
	return lo.SomeBy(lines, func(l Line) bool {
		if !l.IsInstruction() {
			return false
		}
		st, _ := statementOf(l)
		return strings.Contains(st.OperandsCompact(), "(%rsp")
	})
}
