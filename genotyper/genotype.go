// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotyper

import (
	"github.com/grailbio/locuswalk/pileup"
)

// DiploidGenotype is an unordered pair of regular bases.
type DiploidGenotype uint8

// The ten diploid genotypes, in the order used by likelihood vectors.
const (
	AA DiploidGenotype = iota
	AC
	AG
	AT
	CC
	CG
	CT
	GG
	GT
	TT
)

// NumDiploidGenotypes is the number of DiploidGenotype values.
const NumDiploidGenotypes = 10

// genotypeBases holds the pileup.Base* enums of each genotype, lowest first.
var genotypeBases = [NumDiploidGenotypes][2]byte{
	{pileup.BaseA, pileup.BaseA},
	{pileup.BaseA, pileup.BaseC},
	{pileup.BaseA, pileup.BaseG},
	{pileup.BaseA, pileup.BaseT},
	{pileup.BaseC, pileup.BaseC},
	{pileup.BaseC, pileup.BaseG},
	{pileup.BaseC, pileup.BaseT},
	{pileup.BaseG, pileup.BaseG},
	{pileup.BaseG, pileup.BaseT},
	{pileup.BaseT, pileup.BaseT},
}

// genotypeIndex[b1][b2] is the genotype of the base enums b1 and b2.
var genotypeIndex [pileup.NBase][pileup.NBase]DiploidGenotype

func init() {
	for g, bases := range genotypeBases {
		genotypeIndex[bases[0]][bases[1]] = DiploidGenotype(g)
		genotypeIndex[bases[1]][bases[0]] = DiploidGenotype(g)
	}
}

// GenotypeOf returns the genotype made of the base enums b1 and b2, in
// either order. Both must be regular bases.
func GenotypeOf(b1, b2 byte) DiploidGenotype { return genotypeIndex[b1][b2] }

// Bases returns the base enums of g, lowest first.
func (g DiploidGenotype) Bases() (byte, byte) {
	return genotypeBases[g][0], genotypeBases[g][1]
}

// IsHom reports whether both bases of g are the same.
func (g DiploidGenotype) IsHom() bool { return genotypeBases[g][0] == genotypeBases[g][1] }

// IsHomRef reports whether g is homozygous for the base enum ref.
func (g DiploidGenotype) IsHomRef(ref byte) bool {
	return g.IsHom() && genotypeBases[g][0] == ref
}

// NumNonRef counts the bases of g that differ from the base enum ref.
func (g DiploidGenotype) NumNonRef(ref byte) int {
	n := 0
	for _, b := range genotypeBases[g] {
		if b != ref {
			n++
		}
	}
	return n
}

func (g DiploidGenotype) String() string {
	return string([]byte{pileup.EnumToASCIITable[genotypeBases[g][0]], pileup.EnumToASCIITable[genotypeBases[g][1]]})
}
