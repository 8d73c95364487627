package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Accounts []accountSchema `toml:"accounts"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported accounts schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type accountSchema struct {
	Email        string `toml:"email"`
	Password     string `toml:"password"`
	FirstName    string `toml:"first_name"`
	LastName     string `toml:"last_name"`
	Country      string `toml:"country,omitempty"`
	APIKey       string `toml:"api_key,omitempty"`
	RegisteredAt string `toml:"registered_at"`
}
