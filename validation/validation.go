// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package validation holds the strictness setting that decides whether soft
// input problems (sequence dictionary mismatches, unsorted inputs, missing
// indexes) abort a run or are only logged. It also classifies the errors that
// the traversal packages return.
package validation

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Stringency controls how soft validation failures are handled.
type Stringency int

const (
	// Strict turns every validation failure into an error.
	Strict Stringency = iota
	// Lenient logs validation failures as warnings and carries on.
	Lenient
	// Silent drops validation failures.
	Silent
)

var stringencyNames = []string{"strict", "lenient", "silent"}

// String implements fmt.Stringer.
func (s Stringency) String() string {
	if s < 0 || int(s) >= len(stringencyNames) {
		return fmt.Sprintf("Stringency(%d)", int(s))
	}
	return stringencyNames[s]
}

// ParseStringency parses "strict", "lenient" or "silent", case-insensitively.
func ParseStringency(s string) (Stringency, error) {
	for i, name := range stringencyNames {
		if strings.EqualFold(s, name) {
			return Stringency(i), nil
		}
	}
	return Strict, errors.E(errors.Invalid, fmt.Sprintf("unknown validation stringency %q", s))
}

// Report applies the stringency to a validation failure. Under Strict, err is
// returned unchanged. Under Lenient, err is logged and nil is returned. Under
// Silent, nil is returned.
func (s Stringency) Report(err error) error {
	if err == nil {
		return nil
	}
	switch s {
	case Strict:
		return err
	case Lenient:
		log.Error.Printf("warning: %v", err)
	}
	return nil
}

// Reportf is a shorthand for Report(errors.E(kind, fmt.Sprintf(format, args...))).
func (s Stringency) Reportf(kind errors.Kind, format string, args ...interface{}) error {
	return s.Report(errors.E(kind, fmt.Sprintf(format, args...)))
}

// Internalf creates an error that flags a broken invariant inside the
// traversal code, as opposed to bad input data.
func Internalf(format string, args ...interface{}) error {
	return errors.E(errors.Precondition, "internal error: "+fmt.Sprintf(format, args...))
}

// IsInternalError reports whether err was created by Internalf.
func IsInternalError(err error) bool {
	return err != nil && errors.Is(errors.Precondition, err)
}

// IsUserError reports whether err describes a problem with the inputs:
// malformed or unreadable files, missorted data, inconsistent dictionaries.
func IsUserError(err error) bool {
	if err == nil || IsInternalError(err) {
		return false
	}
	return errors.Is(errors.Invalid, err) ||
		errors.Is(errors.Integrity, err) ||
		errors.Is(errors.NotExist, err) ||
		errors.Is(errors.NotSupported, err)
}
