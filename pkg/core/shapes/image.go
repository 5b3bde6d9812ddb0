// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"strings"

	"github.com/pkg/errors"
)

// ImageLayoutKind is the order in which image axes are stored in a sample.
type ImageLayoutKind int

const (
	// HWC is the legacy layout: channels vary fastest, the tensor dimensions are (C, W, H).
	HWC ImageLayoutKind = iota

	// CHW is the layout used by cuDNN: width varies fastest, the tensor dimensions are (W, H, C).
	CHW
)

// String implements fmt.Stringer.
func (k ImageLayoutKind) String() string {
	switch k {
	case HWC:
		return "HWC"
	case CHW:
		return "CHW"
	}
	return "Invalid"
}

// ParseImageLayoutKind converts a configuration string to an ImageLayoutKind.
// It accepts "HWC" (or "legacy") and "CHW" (or "cudnn"), case-insensitive.
func ParseImageLayoutKind(s string) (ImageLayoutKind, error) {
	switch strings.ToLower(s) {
	case "hwc", "legacy":
		return HWC, nil
	case "chw", "cudnn":
		return CHW, nil
	}
	return 0, errors.Errorf("invalid image layout kind %q, valid values are \"HWC\" (or \"legacy\") and \"CHW\" (or \"cudnn\")", s)
}

// ImageShape returns the sample shape of an image with the given width, height and number of channels,
// laid out according to kind.
func ImageShape(width, height, channels int, kind ImageLayoutKind) Shape {
	if kind == CHW {
		return Make(width, height, channels)
	}
	return Make(channels, width, height)
}
