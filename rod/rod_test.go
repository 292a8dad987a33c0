// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rod_test

import (
	"io/ioutil"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/grailbio/base/intervalmap"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/locuswalk/interval"
	"github.com/grailbio/locuswalk/rod"
	"github.com/grailbio/locuswalk/validation"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func newDict(t *testing.T) *interval.Dictionary {
	d, err := interval.NewDictionary([]interval.Contig{{Name: "chr1", Length: 10000}, {Name: "chr2", Length: 5000}})
	require.NoError(t, err)
	return d
}

func loc(t *testing.T, d *interval.Dictionary, contig string, start, stop int64) interval.Loc {
	l, err := d.NewLoc(contig, start, stop)
	require.NoError(t, err)
	return l
}

func names(l *rod.RecordList) []string {
	if l == nil {
		return nil
	}
	var r []string
	for _, rec := range l.Records {
		r = append(r, rec.(*rod.Feature).Name)
	}
	return r
}

func TestSeekForward(t *testing.T) {
	d := newDict(t)
	recs := []rod.Record{
		&rod.Feature{Location: loc(t, d, "chr1", 10, 100), Name: "long"},
		&rod.Feature{Location: loc(t, d, "chr1", 20, 25), Name: "short"},
		&rod.Feature{Location: loc(t, d, "chr1", 50, 50), Name: "point"},
		&rod.Feature{Location: loc(t, d, "chr2", 1, 10), Name: "other"},
	}
	it := rod.NewSeekableIterator("t", rod.TypeInMemory, rod.NewSliceIterator(recs))
	l, err := it.SeekForward(loc(t, d, "chr1", 5, 5))
	require.NoError(t, err)
	expect.Nil(t, l)
	l, err = it.SeekForward(loc(t, d, "chr1", 22, 22))
	require.NoError(t, err)
	expect.EQ(t, names(l), []string{"long", "short"})
	expect.EQ(t, l.Track, "t")
	l, err = it.SeekForward(loc(t, d, "chr1", 50, 50))
	require.NoError(t, err)
	expect.EQ(t, names(l), []string{"long", "point"})
	l, err = it.SeekForward(loc(t, d, "chr1", 101, 200))
	require.NoError(t, err)
	expect.Nil(t, l)
	l, err = it.SeekForward(loc(t, d, "chr2", 10, 10))
	require.NoError(t, err)
	expect.EQ(t, names(l), []string{"other"})

	_, err = it.SeekForward(loc(t, d, "chr1", 60, 60))
	expect.True(t, validation.IsInternalError(err))
}

func TestSeekForwardOutOfOrder(t *testing.T) {
	d := newDict(t)
	recs := []rod.Record{
		&rod.Feature{Location: loc(t, d, "chr1", 30, 40), Name: "a"},
		&rod.Feature{Location: loc(t, d, "chr1", 10, 20), Name: "b"},
	}
	it := rod.NewSeekableIterator("t", rod.TypeInMemory, rod.NewSliceIterator(recs))
	_, err := it.SeekForward(loc(t, d, "chr1", 50, 50))
	require.Error(t, err)
	expect.True(t, validation.IsUserError(err))
}

// TestSeekForwardOracle replays random increasing queries against an
// interval map of the same records.
func TestSeekForwardOracle(t *testing.T) {
	d := newDict(t)
	r := rand.New(rand.NewSource(0))
	var (
		recs    []rod.Record
		entries []intervalmap.Entry
	)
	for i := 0; i < 300; i++ {
		start := int64(r.Intn(9000) + 1)
		f := &rod.Feature{Location: loc(t, d, "chr1", start, start+int64(r.Intn(200))), Name: string(rune('a'+i%26)) + string(rune('a'+i/26))}
		recs = append(recs, f)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Loc().ComparePos(recs[j].Loc()) < 0 })
	for _, rec := range recs {
		l := rec.Loc()
		entries = append(entries, intervalmap.Entry{
			Interval: intervalmap.Interval{Start: l.Start, Limit: l.Stop + 1},
			Data:     rec,
		})
	}
	oracle := intervalmap.New(entries)
	it := rod.NewSeekableIterator("t", rod.TypeInMemory, rod.NewSliceIterator(recs))
	pos := int64(1)
	for pos < 9500 {
		q := loc(t, d, "chr1", pos, pos+int64(r.Intn(3)))
		l, err := it.SeekForward(q)
		require.NoError(t, err)
		var hits []*intervalmap.Entry
		oracle.Get(intervalmap.Interval{Start: q.Start, Limit: q.Stop + 1}, &hits)
		var want []string
		for _, h := range hits {
			want = append(want, h.Data.(*rod.Feature).Name)
		}
		got := names(l)
		sort.Strings(want)
		sort.Strings(got)
		require.Equal(t, want, got, "query %v", q)
		pos += int64(r.Intn(40))
	}
	require.NoError(t, it.Close())
}

const bedData = `track name=test
chr1	9	20	a	0	+
chr1	14	15	b
chr2	0	10
`

const vcfData = `##fileformat=VCFv4.2
##contig=<ID=chr1,length=10000>
##contig=<ID=chr2,length=5000>
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO
chr1	15	rs1	A	C,T	50	PASS	DP=10
chr1	30	.	ACG	A	.	.	.
`

func TestFileTracks(t *testing.T) {
	ctx := vcontext.Background()
	tmp, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)
	d := newDict(t)

	bedPath := filepath.Join(tmp, "t.bed")
	require.NoError(t, ioutil.WriteFile(bedPath, []byte(bedData), 0600))
	vcfPath := filepath.Join(tmp, "t.vcf")
	require.NoError(t, ioutil.WriteFile(vcfPath, []byte(vcfData), 0600))

	vcf, err := rod.NewVCFSiteTrack(ctx, "dbsnp", vcfPath, d)
	require.NoError(t, err)
	expect.NotNil(t, vcf.Dictionary())
	expect.EQ(t, vcf.Dictionary().Len(), 2)

	tracker, err := rod.NewTracker(ctx, []rod.Track{rod.NewBEDTrack("targets", bedPath, d), vcf})
	require.NoError(t, err)
	require.NoError(t, tracker.Validate(d, validation.Strict))

	lists, err := tracker.At(loc(t, d, "chr1", 10, 10))
	require.NoError(t, err)
	require.Len(t, lists, 2)
	expect.EQ(t, names(lists[0]), []string{"a"})
	expect.Nil(t, lists[1])

	lists, err = tracker.At(loc(t, d, "chr1", 15, 15))
	require.NoError(t, err)
	expect.EQ(t, names(lists[0]), []string{"a", "b"})
	f := lists[0].Records[0].(*rod.Feature)
	expect.EQ(t, f.Fields, []string{"0", "+"})
	require.Equal(t, 1, lists[1].Len())
	site := lists[1].Records[0].(*rod.Site)
	expect.EQ(t, site.ID, "rs1")
	expect.EQ(t, site.Alts, []string{"C", "T"})
	expect.EQ(t, site.Qual, 50.0)
	expect.EQ(t, lists[1].Type, rod.TypeVCF)

	lists, err = tracker.At(loc(t, d, "chr1", 32, 32))
	require.NoError(t, err)
	expect.Nil(t, lists[0])
	site = lists[1].Records[0].(*rod.Site)
	expect.EQ(t, site.Location.Stop, int64(32))
	expect.True(t, math.IsNaN(site.Qual))

	lists, err = tracker.At(loc(t, d, "chr2", 10, 10))
	require.NoError(t, err)
	expect.EQ(t, lists[0].Len(), 1)
	require.NoError(t, tracker.Close())
}

func TestValidate(t *testing.T) {
	ref := newDict(t)
	other, err := interval.NewDictionary([]interval.Contig{{Name: "chr1", Length: 999}})
	require.NoError(t, err)
	tracker, err := rod.NewTracker(vcontext.Background(), []rod.Track{rod.NewSliceTrack("t", rod.TypeInMemory, other, nil)})
	require.NoError(t, err)
	expect.NotNil(t, tracker.Validate(ref, validation.Strict))
	expect.NoError(t, tracker.Validate(ref, validation.Lenient))

	_, err = rod.NewTracker(vcontext.Background(), []rod.Track{
		rod.NewSliceTrack("t", rod.TypeInMemory, nil, nil),
		rod.NewSliceTrack("t", rod.TypeInMemory, nil, nil),
	})
	expect.NotNil(t, err)
}
