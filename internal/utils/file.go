package utils

import (
	"os"
	"path/filepath"
)

// LerArquivo lê um arquivo e retorna seu conteúdo
func LerArquivo(nomeArquivo string) (string, error) {
	bytesConteudo, err := os.ReadFile(nomeArquivo)
	if err != nil {
		return "", EnvolverErro("erro ao ler arquivo", err)
	}
	return string(bytesConteudo), nil
}

// EscreverArquivo sobrescreve o arquivo com o conteúdo dado.
// Não há garantia de escrita atômica: um passo de build que falhar é
// simplesmente repetido a partir das fontes.
func EscreverArquivo(nomeArquivo string, conteudo string) error {
	diretorio := filepath.Dir(nomeArquivo)
	if err := os.MkdirAll(diretorio, 0755); err != nil {
		return EnvolverErro("erro ao criar diretório", err)
	}

	if err := os.WriteFile(nomeArquivo, []byte(conteudo), 0644); err != nil {
		return EnvolverErro("erro ao escrever arquivo", err)
	}

	return nil
}
