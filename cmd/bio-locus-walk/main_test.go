// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/locuswalk/engine"
	"github.com/grailbio/locuswalk/validation"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// setFlags sets the named flags and returns a function that restores them.
func setFlags(t *testing.T, kv map[string]string) func() {
	old := map[string]string{}
	for k, v := range kv {
		f := flag.Lookup(k)
		require.NotNil(t, f, k)
		old[k] = f.Value.String()
		require.NoError(t, flag.Set(k, v))
	}
	return func() {
		for k, v := range old {
			require.NoError(t, flag.Set(k, v))
		}
	}
}

func TestWalkerOptsDownsampling(t *testing.T) {
	tests := []struct {
		coverage, fraction string
		want               engine.DownsampleMode
		wantErr            bool
	}{
		{"0", "0", engine.NoDownsampling, false},
		{"5", "0", engine.DownsamplePerSample, false},
		{"0", "0.5", engine.DownsampleByFraction, false},
		{"5", "0.5", engine.NoDownsampling, true},
	}
	for _, test := range tests {
		restore := setFlags(t, map[string]string{
			"downsample-coverage": test.coverage,
			"downsample-fraction": test.fraction,
		})
		opts, err := walkerOpts()
		restore()
		if test.wantErr {
			require.Error(t, err)
			expect.True(t, errors.Is(errors.Invalid, err))
			expect.True(t, validation.IsUserError(err))
			continue
		}
		require.NoError(t, err)
		expect.EQ(t, opts.Downsampling.Mode, test.want, "coverage=%s fraction=%s", test.coverage, test.fraction)
	}
}

func TestWalkerOptsMethod(t *testing.T) {
	restore := setFlags(t, map[string]string{"method": "quadratic"})
	_, err := walkerOpts()
	restore()
	expect.True(t, validation.IsUserError(err))
}
