package oauth2client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// clientsFile is the layout of the clients YAML file:
//
//	clients:
//	  - id: testid
//	    secret: client-secret
//	    name: Test Client
//	    redirect_uris: [http://example.com/redirect]
//	    scopes: [email, username]
type clientsFile struct {
	Clients []ClientConfig `yaml:"clients"`
}

// LoadFile reads client definitions from a YAML file. Unknown keys are rejected.
func LoadFile(path string) ([]ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read clients file: %w", err)
	}
	return Decode(bytes.NewReader(data))
}

// Decode parses client definitions from YAML
func Decode(r io.Reader) ([]ClientConfig, error) {
	var f clientsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode clients file: %w", err)
	}
	return f.Clients, nil
}
