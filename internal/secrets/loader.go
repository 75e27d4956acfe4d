package secrets

import (
	"os"
	"strings"

	"github.com/spigell/interview-advancer/internal/errors"
)

// Source describes how to load a secret value.
type Source struct {
	// Name is used in error messages to give more context about the secret.
	Name string
	// Value is an inline secret value provided via configuration or env.
	Value string
	// File points to a file containing the secret value. When set it takes
	// precedence over Value.
	File string
	// Optional secrets resolve to an empty string instead of an error when
	// nothing is configured.
	Optional bool
}

// Load returns the resolved, trimmed secret.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	file := strings.TrimSpace(src.File)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", errors.Wrapf(err, "reading %s from file %q", name, file)
		}
		src.Value = string(data)
	}

	secret := strings.TrimSpace(src.Value)
	if secret != "" {
		return secret, nil
	}

	if file != "" {
		return "", errors.NewConfigurationError("%s file %q is empty", name, file)
	}
	if src.Optional {
		return "", nil
	}
	return "", errors.NewConfigurationError("%s is not configured", name)
}
