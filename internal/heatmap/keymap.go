package heatmap

import (
	"io"
	"os"

	"github.com/karastat/heatmap/internal/models"
	"gopkg.in/yaml.v3"
)

// LoadKeymap parses a YAML keymap file.
func LoadKeymap(filePath string) (*models.Keymap, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseKeymap(file)
}

// ParseKeymap parses a keymap from an io.Reader.
func ParseKeymap(r io.Reader) (*models.Keymap, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var keymap models.Keymap
	if err := yaml.Unmarshal(data, &keymap); err != nil {
		return nil, err
	}
	if keymap.Aliases == nil {
		keymap.Aliases = make(map[string]string)
	}

	return &keymap, nil
}
