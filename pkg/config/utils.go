package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const defaultConfigName = ".baton-presence"

var ErrConfigExtension = errors.New("config file must have a .yaml or .yml extension")

// CleanOrGetConfigPath splits a config file path into the directory and the
// extensionless name viper searches for. An empty path means
// ./.baton-presence.yaml.
func CleanOrGetConfigPath(customPath string) (string, string, error) {
	if customPath == "" {
		return ".", defaultConfigName, nil
	}

	cleaned := filepath.Clean(customPath)
	file := filepath.Base(cleaned)

	ext := filepath.Ext(file)
	if ext != ".yaml" && ext != ".yml" {
		return "", "", fmt.Errorf("%w: %s", ErrConfigExtension, customPath)
	}

	return filepath.Dir(cleaned), strings.TrimSuffix(file, ext), nil
}
