// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotyper

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/locuswalk/pileup"
)

// LikelihoodOpts configures a LikelihoodModel.
type LikelihoodOpts struct {
	// PCRErrorRate is the probability that a fragment base differs from the
	// chromosome it was copied from.
	PCRErrorRate float64
	// MinBaseQual drops bases with a lower quality.
	MinBaseQual byte
	// CapBaseQualsAtMappingQual lowers base qualities to the read's mapping
	// quality.
	CapBaseQualsAtMappingQual bool
}

// DefaultLikelihoodOpts is the default model configuration.
var DefaultLikelihoodOpts = LikelihoodOpts{
	PCRErrorRate: 1e-4,
	MinBaseQual:  17,
}

var log10Of3 = math.Log10(3)

// Likelihoods are the log10 likelihoods of one sample's bases given each
// diploid genotype.
type Likelihoods struct {
	Log10 [NumDiploidGenotypes]float64
	// Bases counts the observations added: a singleton read or an
	// overlapping read pair each count once.
	Bases int
}

// Biallelic returns [AA, AB, BB] for the base enums ref (A) and alt (B).
func (l *Likelihoods) Biallelic(ref, alt byte) [3]float64 {
	return [3]float64{
		l.Log10[GenotypeOf(ref, ref)],
		l.Log10[GenotypeOf(ref, alt)],
		l.Log10[GenotypeOf(alt, alt)],
	}
}

// Posteriors returns the unnormalized log10 genotype posteriors under priors.
func (l *Likelihoods) Posteriors(priors DiploidGenotypePriors) [NumDiploidGenotypes]float64 {
	var p [NumDiploidGenotypes]float64
	for g := range p {
		p[g] = l.Log10[g] + priors[g]
	}
	return p
}

// obsKey identifies one observation: a base and quality, optionally with
// the base and quality of the overlapping mate.
type obsKey uint32

func newObsKey(b1, q1, b2, q2 byte) obsKey {
	return obsKey(b1)<<24 | obsKey(q1)<<16 | obsKey(b2)<<8 | obsKey(q2)
}

// LikelihoodModel turns pileup bases into diploid genotype likelihoods. Each
// base is a fragment base copied from one of the two chromosomes, with PCR
// errors, then read with the error rate of its quality; miscalls are spread
// evenly over the three other bases. It caches per-observation likelihoods
// and is not safe for concurrent use.
type LikelihoodModel struct {
	opts                  LikelihoodOpts
	log10PCRError3        float64
	log10OneMinusPCRError float64
	cache                 map[obsKey]*[NumDiploidGenotypes]float64
}

// NewLikelihoodModel creates a model.
func NewLikelihoodModel(opts LikelihoodOpts) (*LikelihoodModel, error) {
	if opts.PCRErrorRate <= 0 || opts.PCRErrorRate >= 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("PCR error rate %v is not in (0, 1)", opts.PCRErrorRate))
	}
	return &LikelihoodModel{
		opts:                  opts,
		log10PCRError3:        math.Log10(opts.PCRErrorRate) - log10Of3,
		log10OneMinusPCRError: math.Log10(1 - opts.PCRErrorRate),
		cache:                 map[obsKey]*[NumDiploidGenotypes]float64{},
	}, nil
}

// Compute returns the likelihoods of the bases in pile. Two elements from
// reads with the same name form one fragment: their bases are evidence of a
// single chromosome.
func (m *LikelihoodModel) Compute(pile *pileup.AlignmentContext) Likelihoods {
	var l Likelihoods
	type fragment struct{ first, second int }
	frags := make([]fragment, 0, len(pile.Elements))
	byName := make(map[string]int, len(pile.Elements))
	for i, e := range pile.Elements {
		if j, ok := byName[e.Read.Name]; ok && frags[j].second < 0 {
			frags[j].second = i
			continue
		}
		byName[e.Read.Name] = len(frags)
		frags = append(frags, fragment{i, -1})
	}
	for _, f := range frags {
		b1, q1 := m.usable(pile.Elements[f.first])
		if f.second < 0 {
			if q1 > 0 {
				m.add(&l, b1, q1, 0, 0)
			}
			continue
		}
		b2, q2 := m.usable(pile.Elements[f.second])
		switch {
		case q1 > 0:
			m.add(&l, b1, q1, b2, q2)
		case q2 > 0:
			m.add(&l, b2, q2, 0, 0)
		}
	}
	return l
}

// usable returns the base enum and the quality to use for e. The quality is
// zero for bases that must be ignored.
func (m *LikelihoodModel) usable(e pileup.Element) (byte, byte) {
	if e.IsDeletion() {
		return pileup.BaseX, 0
	}
	b := pileup.BaseEnumAt(e.Read, e.Offset)
	if b == pileup.BaseX {
		return b, 0
	}
	q := e.Qual()
	if m.opts.CapBaseQualsAtMappingQual && e.Read.MapQ < q {
		q = e.Read.MapQ
	}
	if q < m.opts.MinBaseQual {
		q = 0
	}
	return b, q
}

func (m *LikelihoodModel) add(l *Likelihoods, b1, q1, b2, q2 byte) {
	if q2 == 0 {
		b2 = 0
	}
	key := newObsKey(b1, q1, b2, q2)
	gl, ok := m.cache[key]
	if !ok {
		gl = m.observationLikelihoods(b1, q1, b2, q2)
		m.cache[key] = gl
	}
	for g, v := range gl {
		l.Log10[g] += v
	}
	l.Bases++
}

// observationLikelihoods computes log10 P(obs | genotype) for one fragment.
// q2 == 0 means there is no second base.
func (m *LikelihoodModel) observationLikelihoods(b1, q1, b2, q2 byte) *[NumDiploidGenotypes]float64 {
	var perBase [pileup.NBase]float64
	for trueBase := byte(0); trueBase < pileup.NBase; trueBase++ {
		sum := 0.0
		for fragBase := byte(0); fragBase < pileup.NBase; fragBase++ {
			v := m.log10PCRError3
			if trueBase == fragBase {
				v = m.log10OneMinusPCRError
			}
			v += log10PObserved(b1, fragBase, q1)
			if q2 != 0 {
				v += log10PObserved(b2, fragBase, q2)
			}
			sum += math.Pow(10, v)
		}
		perBase[trueBase] = math.Log10(sum)
	}
	gl := new([NumDiploidGenotypes]float64)
	for g := range gl {
		c1, c2 := DiploidGenotype(g).Bases()
		// Each chromosome is sampled with probability 1/2.
		gl[g] = math.Log10(0.5*math.Pow(10, perBase[c1]) + 0.5*math.Pow(10, perBase[c2]))
	}
	return gl
}

// log10PObserved returns log10 P(observed | fragment base, quality).
func log10PObserved(observed, frag, qual byte) float64 {
	if observed == frag {
		return math.Log10(1 - math.Pow(10, float64(qual)/-10))
	}
	return float64(qual)/-10 - log10Of3
}
