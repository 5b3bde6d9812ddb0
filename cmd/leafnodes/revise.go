// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"

	"github.com/gomlx/leafnodes/pkg/ml/nodes"
	"github.com/gomlx/leafnodes/pkg/support/sets"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// revision of the value of one parameter.
type revision struct {
	name, filePath string
}

// parseRevisions parses the value of -revise: "<name>=<path>[,<name>=<path>...]".
func parseRevisions(value string) ([]revision, error) {
	var revisions []revision
	seen := sets.Make[string]()
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, filePath, found := strings.Cut(part, "=")
		name, filePath = strings.TrimSpace(name), strings.TrimSpace(filePath)
		if !found || name == "" || filePath == "" {
			return nil, errors.Errorf("invalid revision %q, it must be of the form <parameter_name>=<file_path>", part)
		}
		if !seen.InsertNew(name) {
			return nil, errors.Errorf("parameter %q revised more than once", name)
		}
		revisions = append(revisions, revision{name: name, filePath: filePath})
	}
	if len(revisions) == 0 {
		return nil, errors.Errorf("no revisions in %q", value)
	}
	return revisions, nil
}

// applyRevisions reloads the parameters from their files. The model is left unchanged if any of them
// is not a parameter.
func applyRevisions[T constraints.Float](m *nodes.Model[T], revisions []revision) error {
	params := make([]*nodes.LearnableParameter[T], len(revisions))
	for ii, rev := range revisions {
		p, err := m.Parameter(rev.name)
		if err != nil {
			return err
		}
		params[ii] = p
	}
	for ii, rev := range revisions {
		if err := params[ii].ReviseFromFile(rev.filePath); err != nil {
			return err
		}
		klog.V(1).Infof("Revised %q from %q", rev.name, rev.filePath)
	}
	return nil
}
