package asm

import (
	"fmt"

	"github.com/m1gwings/treedrawer/tree"
)

// Tree converte a partição do arquivo para o formato do treedrawer:
// arquivo -> seções -> labels
func (f *File) Tree() *tree.Tree {
	raiz := tree.NewTree(tree.NodeString(fmt.Sprintf("%s (%d linhas)", f.dialect, len(f.lines))))
	for i, sp := range f.spans {
		no := raiz.AddChild(tree.NodeString(fmt.Sprintf("%d: %s %d-%d", i, sp.kind, sp.start, sp.end-1)))
		for _, line := range f.lines[sp.start:sp.end] {
			if line.IsLabel() {
				no.AddChild(tree.NodeString(line.Label()))
			}
		}
	}
	return raiz
}

// ImprimirArvore imprime a árvore de seções no console
func (f *File) ImprimirArvore() {
	fmt.Println("=== Seções ===")
	fmt.Println(f.Tree())
	fmt.Println()
}
