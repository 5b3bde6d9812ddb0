// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system: path expansion and line-oriented
// reading of the text files used to initialize parameters.
package fsutil

import (
	"bufio"
	"os"
	"os/user"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It returns an error if `dir` has an unknown user or some other filesystem error (e.g: `~unknown/...`)
func ReplaceTildeInDir(dir string) (string, error) {
	if len(dir) == 0 || dir[0] != '~' {
		return dir, nil
	}
	var userName string
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		sepIdx := strings.IndexRune(dir, '/')
		if sepIdx == -1 {
			userName = dir[1:]
		} else {
			userName = dir[1:sepIdx]
		}
	}
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	return path.Join(usr.HomeDir, dir[1+len(userName):]), nil
}

// MaxLineLength accepted by ScanLines.
const MaxLineLength = 16 << 20

// ScanLines opens the file (after expanding "~") and calls fn for each line, with the line number
// (starting from 1) and the line contents without the trailing new-line.
//
// It stops at the first error returned by fn, and returns it as is.
func ScanLines(filePath string, fn func(lineNum int, line string) error) error {
	filePath, err := ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() { _ = f.Close() }()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), MaxLineLength)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if err := fn(lineNum, strings.TrimRight(scanner.Text(), "\r")); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "failed reading %q after line %d", filePath, lineNum)
	}
	return nil
}
