package account

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type accountsFile struct {
	Accounts []Config `yaml:"accounts"`
}

// LoadFile populates the store from a YAML file with a top-level "accounts" list.
func (s *InMemoryStore) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open accounts file: %w", err)
	}
	defer f.Close()

	var doc accountsFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode accounts file: %w", err)
	}
	for _, cfg := range doc.Accounts {
		if err := s.AddAccount(cfg); err != nil {
			return err
		}
	}
	return nil
}
