// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package upload

import (
	"fmt"
	"path"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// The controller stores paths in a 64 byte buffer.
const maxRemotePathLength = 63

// Entry maps a file below the web directory to its path on the device.
type Entry struct {
	LocalName  string `mapstructure:"local" yaml:"local" json:"local"`
	RemotePath string `mapstructure:"remote" yaml:"remote" json:"remote"`
}

func (e Entry) String() string {
	return fmt.Sprintf("%s -> %s", e.LocalName, e.RemotePath)
}

type Manifest struct {
	Files []Entry `mapstructure:"files" yaml:"files" json:"files"`
}

// DefaultManifest is the web interface served by the controller.
func DefaultManifest() Manifest {
	return Manifest{
		Files: []Entry{
			{LocalName: "index.html", RemotePath: "/index.html"},
			{LocalName: "app.css", RemotePath: "/app.css"},
			{LocalName: "app.js", RemotePath: "/app.js"},
			{LocalName: "favicon.ico", RemotePath: "/favicon.ico"},
		},
	}
}

// LoadManifest reads a manifest file. Entries are either a mapping with
// 'local' and 'remote' keys, or a plain file name that is uploaded to the
// same path below the root.
func LoadManifest(file string) (Manifest, error) {
	cfg := viper.New()
	cfg.SetConfigFile(file)
	if filepath.Ext(file) == "" {
		cfg.SetConfigType("yaml")
	}
	if err := cfg.ReadInConfig(); err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest '%s': %w", file, err)
	}

	var res Manifest
	if err := cfg.Unmarshal(&res, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(entryFromString))); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest '%s': %w", file, err)
	}
	if err := res.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest '%s': %w", file, err)
	}
	return res, nil
}

func entryFromString(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(Entry{}) {
		return data, nil
	}
	name := filepath.ToSlash(data.(string))
	return map[string]interface{}{
		"local":  name,
		"remote": path.Join("/", name),
	}, nil
}

func (m Manifest) Validate() error {
	if len(m.Files) == 0 {
		return fmt.Errorf("no files listed")
	}
	seen := map[string]struct{}{}
	for i, e := range m.Files {
		if e.LocalName == "" {
			return fmt.Errorf("entry %d: missing local file name", i+1)
		}
		if !strings.HasPrefix(e.RemotePath, "/") {
			return fmt.Errorf("entry %d: remote path '%s' must start with '/'", i+1, e.RemotePath)
		}
		if strings.ContainsAny(e.RemotePath, " \t\r\n") {
			return fmt.Errorf("entry %d: remote path '%s' can't contain white space", i+1, e.RemotePath)
		}
		if len(e.RemotePath) > maxRemotePathLength {
			return fmt.Errorf("entry %d: remote path '%s' is longer than %d characters", i+1, e.RemotePath, maxRemotePathLength)
		}
		if _, ok := seen[e.RemotePath]; ok {
			return fmt.Errorf("entry %d: remote path '%s' is listed twice", i+1, e.RemotePath)
		}
		seen[e.RemotePath] = struct{}{}
	}
	return nil
}

// Lookup finds the entry for a local file name.
func (m Manifest) Lookup(localName string) (Entry, bool) {
	localName = filepath.ToSlash(filepath.Clean(localName))
	for _, e := range m.Files {
		if filepath.ToSlash(filepath.Clean(e.LocalName)) == localName {
			return e, true
		}
	}
	return Entry{}, false
}
