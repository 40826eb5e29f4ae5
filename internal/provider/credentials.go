package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mediascribe/mediascribe/internal/core"
)

// CredentialRef is how the caller points at a credential. Credentials are
// resolved fresh on every run and resume; they are never persisted in the
// run directory or checkpoint store.
type CredentialRef struct {
	// Key is an inline API key (highest precedence).
	Key string
	// KeyFile is an explicit path to a key file.
	KeyFile string
	// EnvVar is the environment variable to consult.
	EnvVar string
}

// ResolveCredential resolves a cloud provider's API key.
// Precedence: inline key > explicit key file > environment variable >
// conventionally named local file (~/.config/mediascribe/<provider>.key).
// Absence of all four is a setup error naming every location that was
// tried.
func ResolveCredential(providerName string, ref CredentialRef) (string, error) {
	var tried []string

	if key := strings.TrimSpace(ref.Key); key != "" {
		return key, nil
	}
	tried = append(tried, "--api-key flag")

	if ref.KeyFile != "" {
		key, err := readKeyFile(ref.KeyFile)
		if err != nil {
			return "", core.ErrSetup(core.CodeMissingCredential,
				fmt.Sprintf("key file %s for provider %s is unreadable", ref.KeyFile, providerName)).WithCause(err)
		}
		return key, nil
	}
	tried = append(tried, "--key-file flag")

	if ref.EnvVar != "" {
		if key := strings.TrimSpace(os.Getenv(ref.EnvVar)); key != "" {
			return key, nil
		}
		tried = append(tried, "environment variable "+ref.EnvVar)
	}

	conventional := conventionalKeyPath(providerName)
	if conventional != "" {
		if key, err := readKeyFile(conventional); err == nil {
			return key, nil
		}
		tried = append(tried, conventional)
	}

	return "", core.ErrSetup(core.CodeMissingCredential,
		fmt.Sprintf("no credential found for provider %s (tried: %s)",
			providerName, strings.Join(tried, ", ")))
}

func conventionalKeyPath(providerName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mediascribe", providerName+".key")
}

func readKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path chosen by the operator
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("key file %s is empty", path)
	}
	return key, nil
}
