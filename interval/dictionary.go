// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package interval

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// Contig describes one sequence in a Dictionary.
type Contig struct {
	Name   string
	Length int64
	// Index is the position of the contig in its Dictionary.
	Index int
}

// Dictionary is the ordered list of contigs that defines the total order of
// genome locations. It is immutable once created.
type Dictionary struct {
	contigs []Contig
	byName  map[string]int
}

// NewDictionary creates a Dictionary from (name, length) pairs. The Index
// fields of the arguments are ignored and reassigned in argument order.
func NewDictionary(contigs []Contig) (*Dictionary, error) {
	d := &Dictionary{
		contigs: make([]Contig, len(contigs)),
		byName:  make(map[string]int, len(contigs)),
	}
	for i, c := range contigs {
		if c.Name == "" {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("contig #%d has an empty name", i))
		}
		if _, ok := d.byName[c.Name]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("duplicate contig %s in sequence dictionary", c.Name))
		}
		c.Index = i
		d.contigs[i] = c
		d.byName[c.Name] = i
	}
	return d, nil
}

// DictionaryFromHeader creates a Dictionary with the references of a SAM
// header, in header order. Contig indexes match sam.Reference.ID().
func DictionaryFromHeader(h *sam.Header) *Dictionary {
	refs := h.Refs()
	d := &Dictionary{
		contigs: make([]Contig, len(refs)),
		byName:  make(map[string]int, len(refs)),
	}
	for i, ref := range refs {
		d.contigs[i] = Contig{Name: ref.Name(), Length: int64(ref.Len()), Index: i}
		d.byName[ref.Name()] = i
	}
	return d
}

// Len returns the number of contigs.
func (d *Dictionary) Len() int { return len(d.contigs) }

// Contig returns the i'th contig.
func (d *Dictionary) Contig(i int) Contig { return d.contigs[i] }

// Contigs returns all contigs in order. The caller must not modify the result.
func (d *Dictionary) Contigs() []Contig { return d.contigs }

// Index returns the index of the named contig.
func (d *Dictionary) Index(name string) (int, bool) {
	i, ok := d.byName[name]
	return i, ok
}

// NewLoc creates a validated Loc on the named contig.
func (d *Dictionary) NewLoc(contig string, start, stop int64) (Loc, error) {
	i, ok := d.byName[contig]
	if !ok {
		return Loc{}, errors.E(errors.Invalid, fmt.Sprintf("contig %s not found in sequence dictionary", contig))
	}
	return d.NewLocByIndex(i, start, stop)
}

// NewLocByIndex creates a validated Loc on the contig with the given index.
func (d *Dictionary) NewLocByIndex(index int, start, stop int64) (Loc, error) {
	if index < 0 || index >= len(d.contigs) {
		return Loc{}, errors.E(errors.Invalid, fmt.Sprintf("contig index %d out of range [0,%d)", index, len(d.contigs)))
	}
	c := d.contigs[index]
	if start < 1 || stop < start {
		return Loc{}, errors.E(errors.Invalid, fmt.Sprintf("invalid interval %s:%d-%d", c.Name, start, stop))
	}
	if c.Length > 0 && stop > c.Length {
		return Loc{}, errors.E(errors.Invalid, fmt.Sprintf("interval %s:%d-%d extends past the contig end %d", c.Name, start, stop, c.Length))
	}
	return Loc{ContigIndex: index, Contig: c.Name, Start: start, Stop: stop}, nil
}

// Whole returns a Loc spanning the entire i'th contig.
func (d *Dictionary) Whole(i int) Loc {
	c := d.contigs[i]
	return Loc{ContigIndex: i, Contig: c.Name, Start: 1, Stop: c.Length}
}

// CheckCompatible verifies that contigs present in both d and o have the
// same length and the same relative order. Contigs present in only one of
// them are allowed.
func (d *Dictionary) CheckCompatible(o *Dictionary) error {
	prev := -1
	for _, c := range d.contigs {
		j, ok := o.byName[c.Name]
		if !ok {
			continue
		}
		oc := o.contigs[j]
		if c.Length > 0 && oc.Length > 0 && c.Length != oc.Length {
			return errors.E(errors.Invalid,
				fmt.Sprintf("contig %s has length %d in one sequence dictionary and %d in another", c.Name, c.Length, oc.Length))
		}
		if j < prev {
			return errors.E(errors.Invalid,
				fmt.Sprintf("contig %s appears in a different order in two sequence dictionaries", c.Name))
		}
		prev = j
	}
	return nil
}

// Union returns a Dictionary holding the contigs of d and the contigs of o
// that d lacks. Each contig from o is placed right after the contig that
// precedes it in o, so the result preserves the order of both. The two must
// be compatible.
func (d *Dictionary) Union(o *Dictionary) (*Dictionary, error) {
	if err := d.CheckCompatible(o); err != nil {
		return nil, err
	}
	contigs := append([]Contig(nil), d.contigs...)
	pos := -1 // index in contigs of the last contig of o placed so far.
	for _, c := range o.contigs {
		if i, ok := d.byName[c.Name]; ok {
			for j := pos + 1; j < len(contigs); j++ {
				if contigs[j].Name == d.contigs[i].Name {
					pos = j
					break
				}
			}
			continue
		}
		pos++
		contigs = append(contigs, Contig{})
		copy(contigs[pos+1:], contigs[pos:])
		contigs[pos] = c
	}
	return NewDictionary(contigs)
}

// Equal reports whether d and o list the same contigs in the same order.
func (d *Dictionary) Equal(o *Dictionary) bool {
	if len(d.contigs) != len(o.contigs) {
		return false
	}
	for i := range d.contigs {
		if d.contigs[i] != o.contigs[i] {
			return false
		}
	}
	return true
}
