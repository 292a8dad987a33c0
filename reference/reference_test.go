// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package reference_test

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/locuswalk/interval"
	"github.com/grailbio/locuswalk/reference"
	"github.com/grailbio/locuswalk/validation"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fastaData  = ">seq1\n" + "ACGTA\nCGTAC\nGT\n" + ">seq2 A viral sequence\n" + "acgt\n" + "ACGT\n"
	fastaIndex = "seq1\t12\t6\t5\t6\n" + "seq2\t8\t44\t4\t5\n"
)

func bothFastas(t *testing.T) map[string]reference.Fasta {
	mem, err := reference.NewFasta(strings.NewReader(fastaData))
	require.NoError(t, err)
	indexed, err := reference.NewIndexedFasta(strings.NewReader(fastaData), strings.NewReader(fastaIndex))
	require.NoError(t, err)
	return map[string]reference.Fasta{"memory": mem, "indexed": indexed}
}

func TestGet(t *testing.T) {
	tests := []struct {
		seq        string
		start, end uint64
		want       string
		wantErr    bool
	}{
		{"seq1", 1, 2, "C", false},
		{"seq1", 1, 6, "CGTAC", false},
		{"seq1", 0, 12, "ACGTACGTACGT", false},
		{"seq1", 10, 12, "GT", false},
		{"seq1", 4, 5, "A", false},
		{"seq1", 5, 10, "CGTAC", false},
		{"seq2", 0, 8, "acgtACGT", false},
		{"seq2", 2, 5, "gtA", false},
		{"seq0", 0, 1, "", true},
		{"seq1", 10, 13, "", true},
		{"seq1", 4, 3, "", true},
	}
	for name, fa := range bothFastas(t) {
		assert.Equal(t, []string{"seq1", "seq2"}, fa.SeqNames(), name)
		n, err := fa.Len("seq2")
		require.NoError(t, err)
		assert.EqualValues(t, 8, n)
		for _, tt := range tests {
			got, err := fa.Get(tt.seq, tt.start, tt.end)
			if tt.wantErr {
				assert.Error(t, err, "%s %+v", name, tt)
				continue
			}
			require.NoError(t, err, "%s %+v", name, tt)
			assert.Equal(t, tt.want, got, "%s %+v", name, tt)
		}
	}
}

func TestMalformedFasta(t *testing.T) {
	_, err := reference.NewFasta(strings.NewReader("ACGT\n>seq1\nAC\n"))
	assert.Error(t, err)
	_, err = reference.NewFasta(strings.NewReader(">seq1\nAC\n>seq1\nGT\n"))
	assert.Error(t, err)
	_, err = reference.NewIndexedFasta(strings.NewReader(fastaData), strings.NewReader("seq1\tfoo\n"))
	assert.Error(t, err)
}

func TestGenerateIndex(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, reference.GenerateIndex(&out, strings.NewReader(fastaData)))
	assert.Equal(t, fastaIndex, out.String())

	out.Reset()
	assert.Error(t, reference.GenerateIndex(&out, strings.NewReader(">s\nAC\nACGT\n")))
	out.Reset()
	assert.Error(t, reference.GenerateIndex(&out, strings.NewReader("")))
}

func TestReference(t *testing.T) {
	for name, fa := range bothFastas(t) {
		ref, err := reference.New(fa)
		require.NoError(t, err)
		dict := ref.Dictionary()
		require.Equal(t, 2, dict.Len(), name)
		assert.EqualValues(t, 12, dict.Contig(0).Length)

		loc, err := dict.NewLoc("seq2", 2, 5)
		require.NoError(t, err)
		b, err := ref.BaseAt(loc)
		require.NoError(t, err)
		assert.Equal(t, byte('C'), b, name)
		s, err := ref.Bases(loc)
		require.NoError(t, err)
		assert.Equal(t, "CGTA", s, name)

		it := ref.NewIterator()
		var got []byte
		for _, pos := range []int64{1, 2, 2, 12} {
			l, err := dict.NewLoc("seq1", pos, pos)
			require.NoError(t, err)
			b, err := it.SeekForward(l)
			require.NoError(t, err)
			got = append(got, b)
		}
		l, err := dict.NewLoc("seq2", 1, 1)
		require.NoError(t, err)
		b, err = it.SeekForward(l)
		require.NoError(t, err)
		got = append(got, b)
		assert.Equal(t, "ACCTA", string(got), name)

		back, err := dict.NewLoc("seq1", 3, 3)
		require.NoError(t, err)
		_, err = it.SeekForward(back)
		assert.True(t, validation.IsInternalError(err), name)
	}
}

func TestValidate(t *testing.T) {
	fa, err := reference.NewFasta(strings.NewReader(fastaData))
	require.NoError(t, err)
	ref, err := reference.New(fa)
	require.NoError(t, err)

	good, err := interval.NewDictionary([]interval.Contig{{Name: "seq1", Length: 12}})
	require.NoError(t, err)
	assert.NoError(t, ref.Validate(good, validation.Strict))

	bad, err := interval.NewDictionary([]interval.Contig{{Name: "seq1", Length: 13}, {Name: "seq3", Length: 4}})
	require.NoError(t, err)
	err = ref.Validate(bad, validation.Strict)
	assert.True(t, validation.IsUserError(err))
	assert.NoError(t, ref.Validate(bad, validation.Lenient))
}

func TestOpen(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)
	ctx := vcontext.Background()

	plain := filepath.Join(tmpdir, "plain.fa")
	require.NoError(t, ioutil.WriteFile(plain, []byte(fastaData), 0644))
	ref, err := reference.Open(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, 2, ref.Dictionary().Len())
	assert.True(t, ref.InMemory())
	require.NoError(t, ref.Close())

	indexed := filepath.Join(tmpdir, "indexed.fa")
	require.NoError(t, ioutil.WriteFile(indexed, []byte(fastaData), 0644))
	require.NoError(t, ioutil.WriteFile(indexed+".fai", []byte(fastaIndex), 0644))
	ref, err = reference.Open(ctx, indexed)
	require.NoError(t, err)
	assert.False(t, ref.InMemory())
	loc, err := ref.Dictionary().NewLoc("seq1", 12, 12)
	require.NoError(t, err)
	b, err := ref.BaseAt(loc)
	require.NoError(t, err)
	assert.Equal(t, byte('T'), b)
	require.NoError(t, ref.Close())

	_, err = reference.Open(ctx, filepath.Join(tmpdir, "missing.fa"))
	assert.Error(t, err)
}
