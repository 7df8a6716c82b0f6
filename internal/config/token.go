package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TokenEnvVar holds an access token when neither a flag nor a token file
// provides one.
const TokenEnvVar = "CLOSET_ACCESS_TOKEN"

// Token sources reported by ResolveToken.
const (
	TokenSourceFlag = "flag"
	TokenSourceFile = "token-file"
	TokenSourceEnv  = "environment"
)

// ResolveToken returns the access token and where it came from.
//
// Priority (highest to lowest):
//  1. token parameter (the --token flag)
//  2. token file at tokenPath (DefaultTokenPath when empty)
//  3. CLOSET_ACCESS_TOKEN environment variable
func ResolveToken(token, tokenPath string) (string, string) {
	if token = strings.TrimSpace(token); token != "" {
		return token, TokenSourceFlag
	}

	if tokenPath == "" {
		tokenPath = DefaultTokenPath()
	}
	if t, err := ReadTokenFile(tokenPath); err == nil && t != "" {
		return t, TokenSourceFile
	}

	if t := strings.TrimSpace(os.Getenv(TokenEnvVar)); t != "" {
		return t, TokenSourceEnv
	}
	return "", ""
}

// ReadTokenFile reads a token file, trimming whitespace.
func ReadTokenFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteTokenFile stores token at path with owner-only permissions.
func WriteTokenFile(path, token string) error {
	if path == "" {
		path = DefaultTokenPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(strings.TrimSpace(token)+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save token file: %w", err)
	}
	return nil
}

// RemoveTokenFile deletes the token file. A missing file is not an error.
func RemoveTokenFile(path string) error {
	if path == "" {
		path = DefaultTokenPath()
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}
