// Package config decodifica a política de randomização que o build passa
// para os wrappers de as/ld na variável de ambiente RANDOMIZATION (JSON).
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/khevencolino/Acaso/internal/utils"
)

// EnvVar é a variável de ambiente que carrega a política
const EnvVar = "RANDOMIZATION"

const (
	DefaultAs = "/usr/bin/as"
	DefaultLd = "/usr/bin/ld"
)

// ErrInvalidPolicy indica uma política malformada
var ErrInvalidPolicy = errors.New("política de randomização inválida")

// Assembly configura as transformações do arquivo assembly.
// Todos os campos são desligados por padrão.
type Assembly struct {
	Heap          int  `json:"heap"`           // 0: desligado, > 0: padding em [0, heap) antes de malloc
	Stack         int  `json:"stack"`          // 0: desligado, > 0: padding em [0, stack) nos frames, em passos de 16 (até 16 só sorteia 0)
	Bss           bool `json:"bss"`            // Embaralhar os sub-segmentos bss?
	Data          bool `json:"data"`           // Embaralhar os sub-segmentos data?
	Rodata        bool `json:"rodata"`         // Embaralhar os sub-segmentos rodata?
	FileStructure bool `json:"file_structure"` // Embaralhar a ordem das seções?
}

// Enabled indica se alguma transformação está ligada
func (a Assembly) Enabled() bool {
	return a.Heap > 0 || a.Stack > 0 || a.Bss || a.Data || a.Rodata || a.FileStructure
}

// Validate rejeita valores negativos
func (a Assembly) Validate() error {
	if a.Heap < 0 {
		return utils.EnvolverErro(fmt.Sprintf("heap deve ser >= 0, recebido %d", a.Heap), ErrInvalidPolicy)
	}
	if a.Stack < 0 {
		return utils.EnvolverErro(fmt.Sprintf("stack deve ser >= 0, recebido %d", a.Stack), ErrInvalidPolicy)
	}
	return nil
}

// Policy é a política completa lida do ambiente
type Policy struct {
	Assembly
	Linker bool   `json:"linker"`  // Randomizar a ordem dos argumentos do linker?
	UsedAs string `json:"used_as"` // Assembler real
	UsedLd string `json:"used_ld"` // Linker real
	Debug  bool   `json:"debug"`   // Mensagens de debug nos wrappers
}

// Default retorna a política com tudo desligado
func Default() Policy {
	return Policy{UsedAs: DefaultAs, UsedLd: DefaultLd}
}

// Parse decodifica a política; chaves desconhecidas são rejeitadas
func Parse(data []byte) (Policy, error) {
	policy := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return policy, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&policy); err != nil {
		return Policy{}, utils.EnvolverErro("erro ao decodificar "+EnvVar, errors.Join(ErrInvalidPolicy, err))
	}
	if dec.More() {
		return Policy{}, utils.EnvolverErro("conteúdo extra após a política", ErrInvalidPolicy)
	}
	if strings.TrimSpace(policy.UsedAs) == "" {
		policy.UsedAs = DefaultAs
	}
	if strings.TrimSpace(policy.UsedLd) == "" {
		policy.UsedLd = DefaultLd
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// FromEnv lê a política do ambiente via getenv (os.Getenv em produção)
func FromEnv(getenv func(string) string) (Policy, error) {
	return Parse([]byte(getenv(EnvVar)))
}

// ParseAssembly decodifica só a configuração das transformações
func ParseAssembly(data []byte) (Assembly, error) {
	var cfg Assembly
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Assembly{}, utils.EnvolverErro("erro ao decodificar configuração", errors.Join(ErrInvalidPolicy, err))
	}
	if err := cfg.Validate(); err != nil {
		return Assembly{}, err
	}
	return cfg, nil
}
