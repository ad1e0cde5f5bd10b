// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config loads campaign configuration files.
// JSON files may contain comment lines starting with #; files with .yaml/.yml
// extension are parsed as YAML. Unknown fields are rejected in both formats.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/google/gramfuzz/pkg/osutil"
	"gopkg.in/yaml.v3"
)

type Format int

const (
	JSON Format = iota
	YAML
)

// FormatOf guesses file format from the file extension.
func FormatOf(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return YAML
	default:
		return JSON
	}
}

func LoadFile(filename string, cfg interface{}) error {
	if filename == "" {
		return fmt.Errorf("no config file specified")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadFormat(data, FormatOf(filename), cfg)
}

func LoadData(data []byte, cfg interface{}) error {
	return LoadFormat(data, JSON, cfg)
}

func LoadFormat(data []byte, format Format, cfg interface{}) error {
	if err := checkPtrToStruct(cfg); err != nil {
		return err
	}
	switch format {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
		return nil
	default:
		// Remove comment lines starting with #.
		data = regexp.MustCompile(`(^|\n)\s*#[^\n]*`).ReplaceAll(data, nil)
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
		return nil
	}
}

func SaveFile(filename string, cfg interface{}) error {
	if FormatOf(filename) == YAML {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		return osutil.WriteFile(filename, data)
	}
	data, err := json.MarshalIndent(cfg, "", "\t")
	if err != nil {
		return err
	}
	return osutil.WriteFile(filename, data)
}

func checkPtrToStruct(cfg interface{}) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config type is not pointer to struct")
	}
	return nil
}
