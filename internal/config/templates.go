package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# onionchat configuration
# [tor] is used unless [tor_portable] is enabled and its hidden service
# hostname appears in time.

`

// Template renders Default as a commented TOML document.
func Template() (string, error) {
	raw, err := toml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("config template: %w", err)
	}
	return templateHeader + string(raw), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
