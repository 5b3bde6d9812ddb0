// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package environment holds the state of the surrounding training loop that graph nodes may observe,
// such as whether the network is currently being trained or evaluated.
//
// An Environment is passed explicitly to every forward evaluation, see nodes.Node.ForwardProp.
// It is owned by the training loop: nodes only read it.
package environment

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// PropertyIsTraining is the name of the property that reports whether the network is being trained:
// 1 while training, 0 while evaluating.
const PropertyIsTraining = "isTraining"

// ErrUnknownProperty is returned by Resolve for property names that don't exist.
var ErrUnknownProperty = errors.New("unknown environment property")

// Environment is the state observed by the nodes. It's safe for concurrent use.
type Environment struct {
	isTraining atomic.Bool
}

// New creates an Environment with the given training mode.
func New(isTraining bool) *Environment {
	env := &Environment{}
	env.isTraining.Store(isTraining)
	return env
}

// IsTraining returns whether the network is currently being trained.
// A nil Environment is never training.
func (env *Environment) IsTraining() bool {
	if env == nil {
		return false
	}
	return env.isTraining.Load()
}

// SetTraining changes the training mode. It returns the Environment, so calls can be chained.
func (env *Environment) SetTraining(value bool) *Environment {
	env.isTraining.Store(value)
	return env
}

// Getter reads one property of an Environment as a float.
type Getter func(env *Environment) float64

// Resolve returns the Getter for the named property, or ErrUnknownProperty.
func Resolve(name string) (Getter, error) {
	switch name {
	case PropertyIsTraining:
		return func(env *Environment) float64 {
			if env.IsTraining() {
				return 1
			}
			return 0
		}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownProperty, "there is no environment property %q", name)
	}
}

// Properties lists the names accepted by Resolve.
func Properties() []string {
	return []string{PropertyIsTraining}
}
