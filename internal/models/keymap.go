package models

// Keymap defines the YAML mapping between key names stored in the statistics
// database and region id prefixes in the keyboard diagram.
type Keymap struct {
	Suffix  string            `json:"suffix,omitempty" yaml:"suffix,omitempty"` // Overrides the configured region suffix
	Aliases map[string]string `json:"aliases" yaml:"aliases"`                   // key name -> region id prefix
	Ignore  []string          `json:"ignore,omitempty" yaml:"ignore,omitempty"` // Keys never published
}
