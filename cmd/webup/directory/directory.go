// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package directory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// UserConfigPathEnv if set, will load the user config from that path.
	UserConfigPathEnv = "WEBUP_USER_CONFIG_PATH"
	// WebDirectoryEnv if set, is used instead of DefaultWebDirectory.
	WebDirectoryEnv = "WEBUP_WEB_DIR"

	DefaultWebDirectory = "web"
)

func GetUserConfigPath() (string, error) {
	if path, ok := os.LookupEnv(UserConfigPathEnv); ok {
		return path, nil
	}

	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homedir, ".config", "webup", "config.yaml"), nil
}

// GetWebDirectory returns the directory holding the web interface, relative
// to the current directory unless an absolute path is given.
func GetWebDirectory(dir string) string {
	if dir != "" {
		return dir
	}
	if env, ok := os.LookupEnv(WebDirectoryEnv); ok && env != "" {
		return env
	}
	return DefaultWebDirectory
}

func GetUserConfig() (*viper.Viper, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config path: %w", err)
	}

	cfg := viper.New()
	cfg.SetConfigType("yaml")
	cfg.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := cfg.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read user config: %w", err)
		}
	}
	return cfg, nil
}

func WriteConfig(cfg *viper.Viper) error {
	file := cfg.ConfigFileUsed()
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmpFile := filepath.Join(dir, ".config.tmp.yaml")
	if err := cfg.WriteConfigAs(tmpFile); err != nil {
		return err
	}
	defer os.Remove(tmpFile)

	return os.Rename(tmpFile, file)
}

// Unset returns a copy of cfg without key. Viper can't drop a key that was
// read from the file, so the remaining settings are moved to a new instance
// using the same file.
func Unset(cfg *viper.Viper, key string) (*viper.Viper, error) {
	settings := cfg.AllSettings()
	delete(settings, key)

	res := viper.New()
	res.SetConfigType("yaml")
	res.SetConfigFile(cfg.ConfigFileUsed())
	if err := res.MergeConfigMap(settings); err != nil {
		return nil, err
	}
	return res, nil
}
