// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"path/filepath"
)

const appName = "authd"

// Dir returns the XDG config directory for authd.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultPath is the config file read when none is named.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// resolvePath returns path, or DefaultPath when path is empty and that file
// exists, or "" when there is no file to read.
func resolvePath(path string) string {
	if path != "" {
		return path
	}
	def := DefaultPath()
	if _, err := os.Stat(def); err != nil {
		return ""
	}
	return def
}
