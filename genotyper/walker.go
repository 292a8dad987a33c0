// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotyper

import (
	"math"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/locuswalk/engine"
	"github.com/grailbio/locuswalk/interval"
	"github.com/grailbio/locuswalk/pileup"
	"github.com/grailbio/locuswalk/rod"
)

// WalkerOpts configures a genotyping Walker.
type WalkerOpts struct {
	Exact       Opts
	Likelihoods LikelihoodOpts
	// Heterozygosity is the theta of the allele-frequency prior.
	Heterozygosity float64
	// FlatPriors replaces the heterozygosity prior with a uniform one.
	FlatPriors bool
	// MinQual drops calls whose phred-scaled P(AF = 0) is lower. Zero emits
	// every site with alternate evidence.
	MinQual float64
	// Downsampling is requested from the engine.
	Downsampling engine.Downsampling
}

// DefaultWalkerOpts is the default genotyping configuration.
var DefaultWalkerOpts = WalkerOpts{
	Exact:          DefaultOpts,
	Likelihoods:    DefaultLikelihoodOpts,
	Heterozygosity: HumanHeterozygosity,
}

// Call is a biallelic SNP call at one locus.
type Call struct {
	Loc interval.Loc
	// Ref and Alt are ASCII bases.
	Ref, Alt byte
	// IDs of the reference-ordered records at the locus.
	IDs   []string
	Depth int
	// AF is the most likely number of alternate chromosomes out of NumChr.
	AF     int
	NumChr int
	// Qual is the phred-scaled posterior probability that AF = 0.
	Qual float64
	// Log10PNonRef is the log10 posterior probability that AF > 0.
	Log10PNonRef float64
	// LastK is the last allele count computed by the exact recursion.
	LastK     int
	Samples   []string
	Genotypes []GenotypeCall
	// GenotypePosteriors are normalized log10 [AA, AB, BB] posteriors per
	// sample, given AF.
	GenotypePosteriors [][3]float64
}

// CallSet accumulates the output of a Walker.
type CallSet struct {
	// Loci counts the loci genotyped, called or not.
	Loci  int64
	Calls []*Call
}

// Sort orders the calls by location.
func (s *CallSet) Sort() {
	sort.SliceStable(s.Calls, func(i, j int) bool { return s.Calls[i].Loc.Compare(s.Calls[j].Loc) < 0 })
}

// Walker calls biallelic SNPs over a cohort. Every locus with a pileup is
// genotyped against its most frequent non-reference base. Samples are fixed
// at construction so that every call covers the same chromosomes; samples
// without reads at a locus contribute flat likelihoods.
//
// A Walker is used by a single engine; TraverseSharded gets one per shard.
type Walker struct {
	opts    WalkerOpts
	rgs     pileup.ReadGroups
	samples []string
	index   map[string]int
	model   *LikelihoodModel
	calc    *ExactCalculator
	priors  *AFPriorCache
	final   *CallSet
}

type noReadGroups struct{}

func (noReadGroups) ReadGroup(string) (*sam.ReadGroup, bool) { return nil, false }

// NewWalker creates a Walker over samples. Reads are attributed to samples
// through rgs, which may be nil; reads of other samples are ignored. If samples is empty, each
// locus is genotyped over the samples that have reads there.
func NewWalker(samples []string, rgs pileup.ReadGroups, opts WalkerOpts) (*Walker, error) {
	model, err := NewLikelihoodModel(opts.Likelihoods)
	if err != nil {
		return nil, err
	}
	calc, err := NewExactCalculator(opts.Exact)
	if err != nil {
		return nil, err
	}
	priors, err := NewAFPriorCache(opts.Heterozygosity, opts.FlatPriors)
	if err != nil {
		return nil, err
	}
	if rgs == nil {
		rgs = noReadGroups{}
	}
	w := &Walker{opts: opts, rgs: rgs, model: model, calc: calc, priors: priors}
	if len(samples) > 0 {
		w.samples = append([]string(nil), samples...)
		sort.Strings(w.samples)
		w.index = make(map[string]int, len(samples))
		for i, s := range w.samples {
			w.index[s] = i
		}
	}
	return w, nil
}

// Result returns the CallSet passed to OnTraversalDone.
func (w *Walker) Result() *CallSet { return w.final }

// Requirements implements engine.Walker.
func (w *Walker) Requirements() engine.Requirements {
	return engine.Requirements{
		NeedsReads:      true,
		NeedsReference:  true,
		AllowedRODTypes: []string{rod.TypeVCF, rod.TypeBED, rod.TypeInMemory},
		Downsampling:    w.opts.Downsampling,
	}
}

// ReduceInit implements engine.Walker.
func (w *Walker) ReduceInit() interface{} { return &CallSet{} }

// Filter implements engine.Walker. Loci without reads or with an irregular
// reference base are skipped.
func (w *Walker) Filter(_ []*rod.RecordList, ref byte, pile *pileup.AlignmentContext) bool {
	return pile.Size() > 0 && pileup.ASCIIToEnum(ref) != pileup.BaseX
}

// Map implements engine.Walker. The value is a *Call, or nil when the locus
// has no alternate evidence or the call is below MinQual.
func (w *Walker) Map(rods []*rod.RecordList, ref byte, pile *pileup.AlignmentContext) (interface{}, error) {
	refEnum := pileup.ASCIIToEnum(ref)
	alt, ok := w.altBase(pile, refEnum)
	if !ok {
		return (*Call)(nil), nil
	}
	samples, gls := w.sampleLikelihoods(pile, refEnum, alt)
	priors, err := w.priors.Get(2 * len(gls))
	if err != nil {
		return nil, err
	}
	vectors := make([][]float64, len(gls))
	for j := range gls {
		vectors[j] = gls[j][:]
	}
	res, err := w.calc.Log10PNonRef(vectors, 1, priors)
	if err != nil {
		return nil, err
	}
	qual := PhredFromLog10(res.Log10PRef())
	if qual < w.opts.MinQual {
		return (*Call)(nil), nil
	}
	af := res.MostLikelyAF()
	genotypes, err := AssignGenotypes(gls, af)
	if err != nil {
		return nil, err
	}
	c := &Call{
		Loc:          pile.Loc,
		Ref:          pileup.EnumToASCIITable[refEnum],
		Alt:          pileup.EnumToASCIITable[alt],
		IDs:          recordIDs(rods),
		Depth:        pile.Size(),
		AF:           af,
		NumChr:       2 * len(gls),
		Qual:         qual,
		Log10PNonRef: res.Log10PNonRef(),
		LastK:        res.LastK,
		Samples:      samples,
		Genotypes:    genotypes,

		GenotypePosteriors: GenotypePosteriors(gls, af),
	}
	if log.At(log.Debug) {
		log.Debug.Printf("%v: %c>%c AF %d/%d qual %.1f", c.Loc, c.Ref, c.Alt, c.AF, c.NumChr, c.Qual)
	}
	return c, nil
}

// altBase returns the most frequent usable non-reference base.
func (w *Walker) altBase(pile *pileup.AlignmentContext, ref byte) (byte, bool) {
	var counts [pileup.NBase]int
	for _, e := range pile.Elements {
		if b, q := w.model.usable(e); q > 0 {
			counts[b]++
		}
	}
	alt, n := byte(0), 0
	for b := byte(0); b < pileup.NBase; b++ {
		if b != ref && counts[b] > n {
			alt, n = b, counts[b]
		}
	}
	return alt, n > 0
}

// sampleLikelihoods returns the samples of the call and their biallelic
// likelihoods.
func (w *Walker) sampleLikelihoods(pile *pileup.AlignmentContext, ref, alt byte) ([]string, [][3]float64) {
	bySample := pile.BySample(w.rgs)
	if w.samples == nil {
		samples := make([]string, len(bySample))
		gls := make([][3]float64, len(bySample))
		for i, sc := range bySample {
			samples[i] = sc.Sample
			l := w.model.Compute(sc.Context)
			gls[i] = l.Biallelic(ref, alt)
		}
		return samples, gls
	}
	gls := make([][3]float64, len(w.samples))
	for _, sc := range bySample {
		i, ok := w.index[sc.Sample]
		if !ok {
			continue
		}
		l := w.model.Compute(sc.Context)
		gls[i] = l.Biallelic(ref, alt)
	}
	return w.samples, gls
}

func recordIDs(rods []*rod.RecordList) []string {
	var ids []string
	for _, l := range rods {
		if l == nil {
			continue
		}
		for _, r := range l.Records {
			switch r := r.(type) {
			case *rod.Site:
				if r.ID != "" && r.ID != "." {
					ids = append(ids, r.ID)
				}
			case *rod.Feature:
				if r.Name != "" {
					ids = append(ids, r.Name)
				}
			}
		}
	}
	return ids
}

// Reduce implements engine.Walker.
func (w *Walker) Reduce(value, sum interface{}) (interface{}, error) {
	s := sum.(*CallSet)
	s.Loci++
	if c := value.(*Call); c != nil {
		s.Calls = append(s.Calls, c)
	}
	return s, nil
}

// Combine implements engine.Combiner. Calls are ordered by OnTraversalDone.
func (w *Walker) Combine(a, b interface{}) (interface{}, error) {
	x, y := a.(*CallSet), b.(*CallSet)
	x.Loci += y.Loci
	x.Calls = append(x.Calls, y.Calls...)
	return x, nil
}

// OnTraversalDone implements engine.Walker.
func (w *Walker) OnTraversalDone(sum interface{}) error {
	s := sum.(*CallSet)
	s.Sort()
	w.final = s
	nVar := 0
	for _, c := range s.Calls {
		if c.AF > 0 {
			nVar++
		}
	}
	log.Printf("genotyper: %d loci genotyped, %d calls, %d with a non-reference allele count", s.Loci, len(s.Calls), nVar)
	return nil
}

// GenotypePosteriors returns each sample's normalized log10 posteriors
// [AA, AB, BB] given the call's allele frequency, under Hardy-Weinberg
// equilibrium. gls are the samples' biallelic likelihoods.
func GenotypePosteriors(gls [][3]float64, af int) [][3]float64 {
	hwe := NewHWECache(2 * len(gls))
	prior := hwe.Get(af)
	out := make([][3]float64, len(gls))
	for j, gl := range gls {
		v := []float64{gl[0] + prior[0], gl[1] + prior[1], gl[2] + prior[2]}
		if math.IsInf(Log10SumLog10(v), -1) {
			v = gl[:]
		}
		norm := NormalizeFromLog10(v, true)
		out[j] = [3]float64{norm[0], norm[1], norm[2]}
	}
	return out
}
