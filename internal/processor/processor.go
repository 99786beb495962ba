// Package processor aplica a configuração de randomização a arquivos assembly.
package processor

import (
	"github.com/khevencolino/Acaso/internal/asm"
	"github.com/khevencolino/Acaso/internal/config"
	"github.com/khevencolino/Acaso/internal/debug"
	"github.com/khevencolino/Acaso/internal/rng"
	"github.com/khevencolino/Acaso/internal/utils"
)

// stackAlignment mantém o alinhamento de 16 bytes exigido pela ABI nas chamadas
const stackAlignment = 16

// Processor aplica as transformações ligadas na configuração
type Processor struct {
	config config.Assembly
	rand   rng.Source
}

// New cria um processador; a configuração é validada antes de qualquer transformação
func New(cfg config.Assembly, src rng.Source) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Processor{config: cfg, rand: src}, nil
}

// Config retorna a configuração do processador
func (p *Processor) Config() config.Assembly {
	return p.config
}

// Apply executa as transformações no arquivo, sempre na mesma ordem:
// estrutura, heap, stack, bss, data, rodata
func (p *Processor) Apply(f *asm.File, smallChanges bool) error {
	cfg := p.config
	if cfg.FileStructure {
		debug.Printf("Randomizando a estrutura do arquivo (pequena=%v)...\n", smallChanges)
		f.RandomizeFileStructure(smallChanges, p.rand)
	}
	if cfg.Heap > 0 {
		debug.Printf("Randomizando chamadas de malloc em [0, %d)...\n", cfg.Heap)
		f.RandomizeMallocCalls(rng.Upto(cfg.Heap), p.rand)
	}
	if cfg.Stack > 0 {
		if cfg.Stack <= stackAlignment {
			debug.Printf("stack=%d: com passos de %d bytes o único padding possível é 0\n", cfg.Stack, stackAlignment)
		}
		debug.Printf("Randomizando frames em [0, %d)...\n", cfg.Stack)
		f.RandomizeStack(rng.Range{Min: 0, Max: cfg.Stack, Step: stackAlignment}, p.rand)
	}
	segments := []struct {
		name    string
		enabled bool
	}{
		{"bss", cfg.Bss},
		{"data", cfg.Data},
		{"rodata", cfg.Rodata},
	}
	for _, segment := range segments {
		if !segment.enabled {
			continue
		}
		debug.Printf("Randomizando sub-segmentos %s...\n", segment.name)
		if err := f.RandomizeSubSegments(segment.name, p.rand); err != nil {
			return err
		}
	}
	return nil
}

// Transform analisa o texto, aplica as transformações e retorna o novo texto.
// Com tudo desligado o texto é devolvido sem ser analisado.
func (p *Processor) Transform(text string, smallChanges bool) (string, error) {
	if !p.config.Enabled() {
		return text, nil
	}
	f, err := asm.Parse(text)
	if err != nil {
		return "", err
	}
	debug.Printf("Dialeto detectado: %s, %d seções\n", f.Dialect(), len(f.Sections()))
	if err := p.Apply(f, smallChanges); err != nil {
		return "", err
	}
	return f.String(), nil
}

// Process randomiza o arquivo e o sobrescreve. Um erro de análise aborta
// antes de qualquer escrita.
func (p *Processor) Process(path string, smallChanges bool) error {
	if !p.config.Enabled() {
		return nil
	}
	conteudo, err := utils.LerArquivo(path)
	if err != nil {
		return err
	}
	randomizado, err := p.Transform(conteudo, smallChanges)
	if err != nil {
		return err
	}
	return utils.EscreverArquivo(path, randomizado)
}
