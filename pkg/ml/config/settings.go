// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/gomlx/leafnodes/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// ParseSettings parses settings given as a list separated by ";": e.g.: "name=W;rows=3;cols=4".
//
// Values are decoded as JSON when possible (numbers, booleans, lists like "[3,4]", quoted strings),
// otherwise they are taken as plain strings. For integers, "_" is removed: it allows one to enter large
// numbers using it as a separator, like in Go. E.g.: 1_000_000 = 1000000.
//
// A setting of the form "file:<path>" reads more settings from the file, one or more per line, ignoring
// empty lines and lines starting with "#".
func ParseSettings(settings string) (Record, error) {
	rec := make(Record)
	for _, setting := range strings.Split(settings, ";") {
		if err := parseSetting(rec, setting); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// MustParseSettings is like ParseSettings, but panics on errors.
func MustParseSettings(settings string) Record {
	rec, err := ParseSettings(settings)
	if err != nil {
		panic(err)
	}
	return rec
}

func parseSetting(rec Record, setting string) error {
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return nil
	}
	if strings.HasPrefix(setting, "file:") {
		filePath := strings.TrimPrefix(setting, "file:")
		filePath, err := fsutil.ReplaceTildeInDir(filePath)
		if err != nil {
			return err
		}
		contents, err := os.ReadFile(filePath)
		if err != nil {
			return errors.Wrapf(err, "failed to read settings from file %q", filePath)
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, setting := range strings.Split(line, ";") {
				if err := parseSetting(rec, setting); err != nil {
					return err
				}
			}
		}
		return nil
	}

	key, valueStr, found := strings.Cut(setting, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return errors.Errorf("can't parse settings %q: each setting requires the format \"<key>=<value>\"", setting)
	}
	rec[key] = parseValue(strings.TrimSpace(valueStr))
	return nil
}

func parseValue(valueStr string) any {
	if isIntegerWithSeparators(valueStr) {
		valueStr = strings.ReplaceAll(valueStr, "_", "")
	}
	var value any
	if err := json.Unmarshal([]byte(valueStr), &value); err == nil {
		return value
	}
	return valueStr
}

func isIntegerWithSeparators(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" || s[0] == '_' || s[len(s)-1] == '_' {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
