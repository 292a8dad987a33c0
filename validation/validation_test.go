// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package validation

import (
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/expect"
)

func TestParseStringency(t *testing.T) {
	tests := []struct {
		in      string
		want    Stringency
		wantErr bool
	}{
		{"strict", Strict, false},
		{"LENIENT", Lenient, false},
		{"Silent", Silent, false},
		{"sloppy", Strict, true},
	}
	for _, test := range tests {
		got, err := ParseStringency(test.in)
		if test.wantErr {
			expect.NotNil(t, err, test.in)
			expect.True(t, IsUserError(err))
			continue
		}
		expect.NoError(t, err, test.in)
		expect.EQ(t, got, test.want)
		expect.EQ(t, got.String(), stringencyNames[test.want])
	}
}

func TestReport(t *testing.T) {
	err := errors.E(errors.Integrity, "file not sorted")
	expect.EQ(t, Strict.Report(err), err)
	expect.Nil(t, Lenient.Report(err))
	expect.Nil(t, Silent.Report(err))
	expect.Nil(t, Strict.Report(nil))
	expect.True(t, IsUserError(Strict.Reportf(errors.Invalid, "bad %s", "dictionary")))
}

func TestClassify(t *testing.T) {
	internal := Internalf("seek backwards from %d to %d", 10, 5)
	expect.True(t, IsInternalError(internal))
	expect.False(t, IsUserError(internal))

	user := errors.E(errors.Invalid, "malformed record")
	expect.False(t, IsInternalError(user))
	expect.True(t, IsUserError(user))
	expect.True(t, IsUserError(errors.E(user, "foo.bam")))
	expect.False(t, IsUserError(nil))
}
