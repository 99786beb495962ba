package debug

import (
	"fmt"
	"io"
	"os"
)

var Enabled bool = false

// Saida recebe as mensagens de debug. A saída padrão pertence à ferramenta
// real (as/ld) quando rodamos como wrapper, por isso stderr.
var Saida io.Writer = os.Stderr

func Printf(format string, args ...interface{}) {
	if Enabled {
		fmt.Fprintf(Saida, format, args...)
	}
}

func Println(args ...interface{}) {
	if Enabled {
		fmt.Fprintln(Saida, args...)
	}
}

func Print(args ...interface{}) {
	if Enabled {
		fmt.Fprint(Saida, args...)
	}
}
