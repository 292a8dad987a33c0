// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pileup turns a coordinate-sorted read stream into per-position
// alignment contexts: the reads covering a reference position and the offset
// of that position within each read.
package pileup

import (
	"strings"

	"github.com/grailbio/hts/sam"
)

const (
	// BaseA represents an A base.
	BaseA byte = iota
	// BaseC represents an C base.
	BaseC
	// BaseG represents an G base.
	BaseG
	// BaseT represents an T base.
	BaseT
	// BaseX is a catch-all.
	BaseX
)

const (
	// NBase is the number of regular base types.
	NBase = 4
	// NBaseEnum counts BaseX as well as the regular base types.
	NBaseEnum = 5
)

// Seq8ToEnumTable is the .bam seq nibble -> A/C/G/T/X enum mapping.
var Seq8ToEnumTable = [...]byte{BaseX, BaseA, BaseC, BaseX, BaseG, BaseX, BaseX, BaseX, BaseT, BaseX, BaseX, BaseX, BaseX, BaseX, BaseX, BaseX}

// EnumToASCIITable is the A/C/G/T/X -> ASCII mapping, with X rendered as 'N'.
var EnumToASCIITable = [...]byte{'A', 'C', 'G', 'T', 'N'}

// Seq8ToASCIITable is the .bam seq nibble -> ASCII mapping.
var Seq8ToASCIITable = [...]byte{'=', 'A', 'C', 'M', 'G', 'R', 'S', 'V', 'T', 'W', 'Y', 'H', 'K', 'D', 'B', 'N'}

// ASCIIToEnum maps a base letter of either case to its A/C/G/T/X enum.
func ASCIIToEnum(b byte) byte {
	switch b {
	case 'A', 'a':
		return BaseA
	case 'C', 'c':
		return BaseC
	case 'G', 'g':
		return BaseG
	case 'T', 't':
		return BaseT
	}
	return BaseX
}

// seq8At returns the .bam seq nibble at offset i of r.
func seq8At(r *sam.Record, i int) byte {
	d := byte(r.Seq.Seq[i>>1])
	if i&1 == 0 {
		return d >> 4
	}
	return d & 0xf
}

// BaseAt returns the ASCII base at offset i of r.
func BaseAt(r *sam.Record, i int) byte { return Seq8ToASCIITable[seq8At(r, i)] }

// BaseEnumAt returns the A/C/G/T/X enum of the base at offset i of r.
func BaseEnumAt(r *sam.Record, i int) byte { return Seq8ToEnumTable[seq8At(r, i)] }

// Platform is a sequencing technology, as declared by the PL field of a read
// group.
type Platform int

const (
	// PlatformUnknown is used for reads without a read group or PL field, or
	// with an unrecognized value.
	PlatformUnknown Platform = iota
	PlatformIllumina
	PlatformSOLiD
	Platform454
	PlatformIonTorrent
	PlatformPacBio
	PlatformONT
	PlatformCapillary
)

var platformNames = [...]string{"UNKNOWN", "ILLUMINA", "SOLID", "LS454", "IONTORRENT", "PACBIO", "ONT", "CAPILLARY"}

func (p Platform) String() string { return platformNames[p] }

// ParsePlatform maps a PL value to a Platform. Matching is
// case-insensitive and accepts the common aliases.
func ParsePlatform(s string) Platform {
	s = strings.ToUpper(s)
	switch {
	case strings.Contains(s, "ILLUMINA"), strings.Contains(s, "SLX"), strings.Contains(s, "SOLEXA"):
		return PlatformIllumina
	case strings.Contains(s, "SOLID"):
		return PlatformSOLiD
	case strings.Contains(s, "454"):
		return Platform454
	case strings.Contains(s, "IONTORRENT"):
		return PlatformIonTorrent
	case strings.Contains(s, "PACBIO"):
		return PlatformPacBio
	case strings.Contains(s, "ONT"), strings.Contains(s, "NANOPORE"):
		return PlatformONT
	case strings.Contains(s, "CAPILLARY"):
		return PlatformCapillary
	}
	return PlatformUnknown
}

// ReadGroups looks up read groups by ID. readsource.Merger implements it.
type ReadGroups interface {
	ReadGroup(id string) (*sam.ReadGroup, bool)
}

type headerReadGroups map[string]*sam.ReadGroup

func (h headerReadGroups) ReadGroup(id string) (*sam.ReadGroup, bool) {
	rg, ok := h[id]
	return rg, ok
}

// HeaderReadGroups indexes the read groups of h.
func HeaderReadGroups(h *sam.Header) ReadGroups {
	m := headerReadGroups{}
	for _, rg := range h.RGs() {
		m[rg.Name()] = rg
	}
	return m
}

var (
	rgTag = sam.NewTag("RG")
	smTag = sam.NewTag("SM")
	plTag = sam.NewTag("PL")
)

// ReadGroupID returns the RG tag of r, or "".
func ReadGroupID(r *sam.Record) string {
	aux := r.AuxFields.Get(rgTag)
	if aux == nil {
		return ""
	}
	id, _ := aux.Value().(string)
	return id
}

// SampleOf returns the sample (SM) of the read group of r, or "" if r has no
// known read group.
func SampleOf(r *sam.Record, rgs ReadGroups) string {
	rg, ok := rgs.ReadGroup(ReadGroupID(r))
	if !ok {
		return ""
	}
	return rg.Get(smTag)
}

// PlatformOf returns the platform of the read group of r. It has no state: the
// answer is recomputed from the read on every call.
func PlatformOf(r *sam.Record, rgs ReadGroups) Platform {
	rg, ok := rgs.ReadGroup(ReadGroupID(r))
	if !ok {
		return PlatformUnknown
	}
	return ParsePlatform(rg.Get(plTag))
}
