package asm

import (
	"slices"
	"strings"
	"testing"
)

func padLines(t *testing.T, amount int, contents ...string) ([]string, int) {
	t.Helper()
	section := FromLines(linesOf(contents...))
	padded, n := section.PadStack(amount)
	return contentsOf(padded.Lines()), n
}

func expectLines(t *testing.T, got, want []string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Fatalf("got:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestPadStackMinimalFrame(t *testing.T) {
	got, n := padLines(t, 16, "foo:", "\tpushq %rbp", "\tpopq %rbp", "\tret")
	if n != 1 {
		t.Fatalf("padded=%d want=1", n)
	}
	expectLines(t, got, []string{
		"foo:",
		"\tpushq %rbp",
		"\tsubq $16, %rsp",
		"\taddq $16, %rsp",
		"\tpopq %rbp",
		"\tret",
	})
}

func TestPadStackRewritesLeave(t *testing.T) {
	got, n := padLines(t, 32,
		"bar:",
		"\tpushq\t%rbp",
		"\tmovq\t%rsp, %rbp",
		"\tsubq\t$16, %rsp",
		"\tcall\tbaz",
		"\tleave",
		"\tret",
	)
	if n != 1 {
		t.Fatalf("padded=%d want=1", n)
	}
	expectLines(t, got, []string{
		"bar:",
		"\tpushq\t%rbp",
		"\tsubq $32, %rsp",
		"\tmovq\t%rsp, %rbp",
		"\tsubq\t$16, %rsp",
		"\tcall\tbaz",
		"\tmov %rbp, %rsp",
		"\taddq $32, %rsp",
		"\tpopq %rbp",
		"\tret",
	})
}

func TestPadStackEveryReturn(t *testing.T) {
	got, n := padLines(t, 48,
		"f:",
		"\tpushq %rbp",
		"\tmovq %rsp, %rbp",
		"\tcmpl $0, %edi",
		"\tjne .L2",
		"\tmovl $1, %eax",
		"\tpopq %rbp",
		"\tret",
		".L2:",
		"\tmovl $2, %eax",
		"\taddl $1, %eax",
		"\tleave",
		"\tret",
	)
	if n != 1 {
		t.Fatalf("padded=%d want=1", n)
	}
	subs := 0
	adds := 0
	rets := 0
	for i, line := range got {
		switch strings.TrimSpace(line) {
		case "subq $48, %rsp":
			subs++
			if strings.TrimSpace(got[i-1]) != "pushq %rbp" {
				t.Fatalf("entry padding not after pushq: %q", got[i-1])
			}
		case "addq $48, %rsp":
			adds++
			if strings.TrimSpace(got[i+1]) != "popq %rbp" {
				t.Fatalf("exit padding not before popq %%rbp: %q", got[i+1])
			}
		case "ret":
			rets++
		}
	}
	if subs != 1 || adds != rets || rets != 2 {
		t.Fatalf("subs=%d adds=%d rets=%d\n%s", subs, adds, rets, strings.Join(got, "\n"))
	}
}

func TestPadStackSkipsOtherSavedRegisters(t *testing.T) {
	got, _ := padLines(t, 16,
		"g:",
		"\tpushq %rbx",
		"\tpushq %rbp",
		"\tmovq %rsp, %rbp",
		"\tpopq %rbp",
		"\tpopq %rbx",
		"\tret",
	)
	expectLines(t, got, []string{
		"g:",
		"\tpushq %rbx",
		"\tpushq %rbp",
		"\tsubq $16, %rsp",
		"\tmovq %rsp, %rbp",
		"\taddq $16, %rsp",
		"\tpopq %rbp",
		"\tpopq %rbx",
		"\tret",
	})
}

func TestPadStackCFI(t *testing.T) {
	got, n := padLines(t, 32,
		"add:",
		".LFB0:",
		"\t.cfi_startproc",
		"\tpushq\t%rbp",
		"\t.cfi_def_cfa_offset 16",
		"\t.cfi_offset 6, -16",
		"\tmovq\t%rsp, %rbp",
		"\t.cfi_def_cfa_register 6",
		"\tmovl\t%edi, -4(%rbp)",
		"\tpopq\t%rbp",
		"\t.cfi_def_cfa 7, 8",
		"\tret",
		"\t.cfi_endproc",
	)
	if n != 1 {
		t.Fatalf("padded=%d want=1", n)
	}
	expectLines(t, got, []string{
		"add:",
		".LFB0:",
		"\t.cfi_startproc",
		"\tpushq\t%rbp",
		"\t.cfi_def_cfa_offset 16",
		"\t.cfi_offset 6, -16",
		"\tsubq $32, %rsp",
		"\t.cfi_adjust_cfa_offset 32",
		"\tmovq\t%rsp, %rbp",
		"\t.cfi_def_cfa_register 6",
		"\tmovl\t%edi, -4(%rbp)",
		"\taddq $32, %rsp",
		"\tpopq\t%rbp",
		"\t.cfi_def_cfa 7, 8",
		"\tret",
		"\t.cfi_endproc",
	})
}

func TestPadStackCFIWithoutFramePointerRegister(t *testing.T) {
	got, _ := padLines(t, 16,
		"h:",
		"\t.cfi_startproc",
		"\tpushq %rbp",
		"\t.cfi_def_cfa_offset 16",
		"\tcall k",
		"\tpopq %rbp",
		"\t.cfi_def_cfa_offset 8",
		"\tret",
		"\t.cfi_endproc",
	)
	expectLines(t, got, []string{
		"h:",
		"\t.cfi_startproc",
		"\tpushq %rbp",
		"\t.cfi_def_cfa_offset 16",
		"\tsubq $16, %rsp",
		"\t.cfi_adjust_cfa_offset 16",
		"\tcall k",
		"\taddq $16, %rsp",
		"\t.cfi_adjust_cfa_offset -16",
		"\tpopq %rbp",
		"\t.cfi_def_cfa_offset 8",
		"\tret",
		"\t.cfi_endproc",
	})
}

func TestPadStackAcceptsLocalsBelowFrame(t *testing.T) {
	got, n := padLines(t, 16,
		"f:",
		"\tpushq %rbp",
		"\tmovq %rsp, %rbp",
		"\tmovl %edi, -20(%rbp)",
		"\tmovl -16(%rbp,%rax,4), %eax",
		"\tpopq %rbp",
		"\tret",
	)
	if n != 1 || got[2] != "\tsubq $16, %rsp" {
		t.Fatalf("negative frame offsets must not block padding: %q", got)
	}
}

func TestPadStackShiftsAbsoluteCFI(t *testing.T) {
	got, n := padLines(t, 32,
		"g:",
		"\t.cfi_startproc",
		"\tpushq %rbp",
		"\t.cfi_def_cfa_offset 16",
		"\t.cfi_offset 6, -16",
		"\tpushq %rbx",
		"\t.cfi_def_cfa_offset 24",
		"\t.cfi_offset 3, -24",
		"\tcall k",
		"\tpopq %rbx",
		"\t.cfi_def_cfa_offset 16",
		"\tpopq %rbp",
		"\t.cfi_def_cfa_offset 8",
		"\tret",
		"\t.cfi_endproc",
	)
	if n != 1 {
		t.Fatalf("padded=%d want=1", n)
	}
	expectLines(t, got, []string{
		"g:",
		"\t.cfi_startproc",
		"\tpushq %rbp",
		"\t.cfi_def_cfa_offset 16",
		"\t.cfi_offset 6, -16",
		"\tsubq $32, %rsp",
		"\t.cfi_adjust_cfa_offset 32",
		"\tpushq %rbx",
		"\t.cfi_def_cfa_offset 56",
		"\t.cfi_offset 3, -56",
		"\tcall k",
		"\tpopq %rbx",
		"\t.cfi_def_cfa_offset 48",
		"\taddq $32, %rsp",
		"\t.cfi_adjust_cfa_offset -32",
		"\tpopq %rbp",
		"\t.cfi_def_cfa_offset 8",
		"\tret",
		"\t.cfi_endproc",
	})
}

func TestPadStackLeavesUnrecognizedFunctions(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"no prologue", []string{"f:", "\tmovl $1, %eax", "\tret"}},
		{"no return", []string{"f:", "\tpushq %rbp", "\tcall exit"}},
		{"tail call exit", []string{"f:", "\tpushq %rbp", "\tjne .L3", "\tpopq %rbp", "\tret", ".L3:", "\tpopq %rbp", "\tjmp g"}},
		{"ret without epilogue", []string{"f:", "\tpushq %rbp", "\tpopq %rbp", "\tret", ".L4:", "\tmovl $0, %eax", "\tret"}},
		{"label between pop and ret", []string{"f:", "\tpushq %rbp", "\tpopq %rbp", ".L5:", "\tret"}},
		{"rsp addressing without frame pointer", []string{"f:", "\tpushq %rbp", "\tmovq 16(%rsp), %rax", "\tpopq %rbp", "\tret"}},
		{"leave kept when rejected", []string{"f:", "\tpushq %rbp", "\tmovq %rsp, %rbp", "\tleave", "\tjmp g"}},
		{"stack argument", []string{"f:", "\tpushq %rbp", "\tmovq %rsp, %rbp", "\tmovq 16(%rbp), %rax", "\tpopq %rbp", "\tret"}},
		{"va_start overflow area", []string{"f:", "\tpushq %rbp", "\tmovq %rsp, %rbp", "\tleaq 16(%rbp), %rax", "\tleave", "\tret"}},
		{"return address", []string{"f:", "\tpushq %rbp", "\tmovq %rsp, %rbp", "\tmovq 8(%rbp), %rax", "\tpopq %rbp", "\tret"}},
		{"saved frame pointer", []string{"f:", "\tpushq %rbp", "\tmovq %rsp, %rbp", "\tmovq (%rbp), %rax", "\tpopq %rbp", "\tret"}},
		{"unknown cfi inside the frame", []string{"f:", "\t.cfi_startproc", "\tpushq %rbp", "\t.cfi_def_cfa_offset 16", "\tcall g", "\t.cfi_escape 0x2e,0x10", "\tpopq %rbp", "\tret", "\t.cfi_endproc"}},
		{"cfa on another register", []string{"f:", "\t.cfi_startproc", "\tpushq %rbp", "\t.cfi_def_cfa_offset 16", "\tcall g", "\t.cfi_def_cfa 10, 0", "\tpopq %rbp", "\tret", "\t.cfi_endproc"}},
	}
	for _, tt := range tests {
		got, n := padLines(t, 16, tt.lines...)
		if n != 0 {
			t.Fatalf("%s: padded=%d want=0", tt.name, n)
		}
		expectLines(t, got, tt.lines)
	}
}

func TestPadStackPerFunction(t *testing.T) {
	got, n := padLines(t, 16,
		"\t.text",
		"\t.globl a",
		"a:",
		"\tpushq %rbp",
		"\tpopq %rbp",
		"\tret",
		"b:",
		"\tmovl $0, %eax",
		"\tret",
		"c:",
		"\tpushq %rbp",
		"\tleave",
		"\tret",
	)
	if n != 2 {
		t.Fatalf("padded=%d want=2", n)
	}
	expectLines(t, got, []string{
		"\t.text",
		"\t.globl a",
		"a:",
		"\tpushq %rbp",
		"\tsubq $16, %rsp",
		"\taddq $16, %rsp",
		"\tpopq %rbp",
		"\tret",
		"b:",
		"\tmovl $0, %eax",
		"\tret",
		"c:",
		"\tpushq %rbp",
		"\tsubq $16, %rsp",
		"\tmov %rbp, %rsp",
		"\taddq $16, %rsp",
		"\tpopq %rbp",
		"\tret",
	})
}

func TestPadStackPlainSectionAndZero(t *testing.T) {
	plain := FromLines(linesOf("\t.section .rodata", ".LC0:", "\t.string \"x\""))
	if out, n := plain.PadStack(16); n != 0 || !slices.Equal(contentsOf(out.Lines()), contentsOf(plain.Lines())) {
		t.Fatalf("plain section changed")
	}
	got, n := padLines(t, 0, "foo:", "\tpushq %rbp", "\tpopq %rbp", "\tret")
	if n != 0 || len(got) != 4 {
		t.Fatalf("zero padding changed the function: %q", got)
	}
}
