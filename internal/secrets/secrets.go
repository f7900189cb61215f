// Package secrets resolves credential values from the configuration.
//
// A value may be a literal, reference environment variables with ${VAR} or
// ${VAR:-default}, or point at a mounted secret file with the "file:" prefix
// (Docker and Kubernetes secrets):
//
//	auth:
//	  jwtsecret: file:/run/secrets/jwt
//	storage:
//	  secretkey: ${MINIO_SECRET_KEY}
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilePrefix marks a value as a path to a secret file.
const FilePrefix = "file:"

// maxFileSize bounds secret file reads. Secrets are tokens and passwords.
const maxFileSize = 64 * 1024

// Resolve returns the secret referenced by value. Values without a file
// prefix or ${...} reference are returned unchanged.
func Resolve(value string) (string, error) {
	if path, ok := strings.CutPrefix(value, FilePrefix); ok {
		return ReadFile(path)
	}
	if !strings.Contains(value, "${") {
		return value, nil
	}
	return ExpandString(value)
}

// ExpandString expands ${VAR} and ${VAR:-default} references. A variable that
// is unset or empty and has no default is an error.
func ExpandString(s string) (string, error) {
	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// ReadFile reads a secret file and trims trailing newlines. The file must be
// a small regular file and must not be empty.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("secret file path is empty")
	}
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("secret file not found: %s", cleanPath)
		}
		return "", fmt.Errorf("failed to stat secret file %s: %w", cleanPath, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret path is not a regular file: %s", cleanPath)
	}
	if info.Size() > maxFileSize {
		return "", fmt.Errorf("secret file too large (max %d bytes): %s", maxFileSize, cleanPath)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", cleanPath, err)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret file is empty: %s", cleanPath)
	}
	return secret, nil
}
