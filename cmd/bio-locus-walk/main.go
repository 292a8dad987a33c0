// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

/*
bio-locus-walk genotypes biallelic SNPs over a cohort of BAM/SAM files. It
walks every reference locus covered by reads, in coordinate order, and runs
the exact allele-frequency calculation on the likelihoods of each sample.
*/

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/locuswalk/engine"
	"github.com/grailbio/locuswalk/genotyper"
	"github.com/grailbio/locuswalk/interval"
	"github.com/grailbio/locuswalk/readsource"
	"github.com/grailbio/locuswalk/reference"
	"github.com/grailbio/locuswalk/rod"
	"github.com/grailbio/locuswalk/validation"
)

// stringList is a repeatable flag.
type stringList []string

func (l *stringList) String() string     { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error { *l = append(*l, v); return nil }

var (
	refPath      = flag.String("ref", "", "Reference FASTA path; required. A .fai index next to it is used if present")
	bedPath      = flag.String("intervals", "", "BED file restricting the traversal")
	indexPath    = flag.String("index", "", "BAM index path for a single BAM input. Defaults to bampath + .bai")
	outPath      = flag.String("out", "calls.tsv", "Output path: TSV, bgzipped TSV with a .gz suffix, or recordio sites with a .rio suffix")
	maxReads     = flag.Int64("max-reads", 0, "Stop after this many reads entered the pileup; 0 means no limit")
	maxLoci      = flag.Int64("max-loci", 0, "Stop after this many loci; 0 means no limit")
	stringency   = flag.String("stringency", "strict", "Handling of unsorted inputs and inconsistent dictionaries: strict, lenient, or silent")
	sortOnTheFly = flag.Bool("sort-on-the-fly", false, "Re-sort reads within a window instead of requiring sorted inputs")
	maxOnFly     = flag.Int("max-on-the-fly-sorts", readsource.DefaultOpts.MaxOnFlySorts, "Window of -sort-on-the-fly, in reads")
	threadedIO   = flag.Bool("threaded-io", false, "Read each input in its own goroutine")
	filterIndels = flag.Bool("filter-indels", false, "Drop reads with insertions or deletions")
	dsCoverage   = flag.Int("downsample-coverage", 0, "Cap the pileup coverage of each sample; 0 disables downsampling")
	dsFraction   = flag.Float64("downsample-fraction", 0, "Keep each read with this probability; 0 disables")
	seed         = flag.Int64("seed", 0, "Downsampling seed")
	theta        = flag.Float64("heterozygosity", genotyper.HumanHeterozygosity, "Heterozygosity of the allele-frequency prior")
	flatPriors   = flag.Bool("flat-priors", false, "Use a uniform allele-frequency prior")
	method       = flag.String("method", "linear", "Exact calculation: linear or gold-standard")
	tolerance    = flag.Float64("early-stop-tolerance", genotyper.DefaultOpts.EarlyStopTolerance, "log10 likelihood drop at which the linear calculation stops; 0 disables early stopping")
	minBaseQual  = flag.Int("min-base-qual", int(genotyper.DefaultLikelihoodOpts.MinBaseQual), "Bases with a lower quality are ignored")
	pcrError     = flag.Float64("pcr-error-rate", genotyper.DefaultLikelihoodOpts.PCRErrorRate, "Per-base PCR error rate")
	capBaseQuals = flag.Bool("cap-base-quals", false, "Cap base qualities at the read's mapping quality")
	minQual      = flag.Float64("min-qual", 0, "Drop calls with a lower phred-scaled QUAL")
	parallelism  = flag.Int("parallelism", 1, "Number of concurrent shards; requires -intervals or -region when above 1")
	shards       = flag.Int("shards", 0, "Number of shards; defaults to 4 * -parallelism")
	regions      stringList
	rods         stringList
)

func usage() {
	fmt.Printf("Usage: %s [OPTIONS] -ref fapath readpath...\n", os.Args[0])
	fmt.Printf("Read paths may be BAM or SAM files, or .list files of paths.\n")
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

// parseTrack parses a -rod value "name:type:path".
func parseTrack(ctx context.Context, v string, dict *interval.Dictionary) (rod.Track, error) {
	parts := strings.SplitN(v, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("-rod %q: want name:type:path", v))
	}
	switch strings.ToUpper(parts[1]) {
	case rod.TypeVCF:
		return rod.NewVCFSiteTrack(ctx, parts[0], parts[2], dict)
	case rod.TypeBED:
		return rod.NewBEDTrack(parts[0], parts[2], dict), nil
	}
	return nil, errors.E(errors.NotSupported, fmt.Sprintf("-rod %q: unknown track type %s", v, parts[1]))
}

// headerSamples returns the sorted distinct samples of the read groups of h.
func headerSamples(h *sam.Header) []string {
	seen := map[string]bool{}
	var samples []string
	for _, rg := range h.RGs() {
		s := rg.Get(sam.NewTag("SM"))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		samples = append(samples, s)
	}
	sort.Strings(samples)
	return samples
}

func walkerOpts() (genotyper.WalkerOpts, error) {
	opts := genotyper.DefaultWalkerOpts
	switch *method {
	case "linear":
		opts.Exact.Method = genotyper.MethodLinear
	case "gold-standard":
		opts.Exact.Method = genotyper.MethodGoldStandard
	default:
		return opts, errors.E(errors.Invalid, fmt.Sprintf("-method %q: want linear or gold-standard", *method))
	}
	opts.Exact.EarlyStopTolerance = *tolerance
	opts.Exact.DisableEarlyStop = *tolerance == 0
	opts.Likelihoods = genotyper.LikelihoodOpts{
		PCRErrorRate:              *pcrError,
		MinBaseQual:               byte(*minBaseQual),
		CapBaseQualsAtMappingQual: *capBaseQuals,
	}
	opts.Heterozygosity = *theta
	opts.FlatPriors = *flatPriors
	opts.MinQual = *minQual
	switch {
	case *dsCoverage > 0 && *dsFraction > 0:
		return opts, errors.E(errors.Invalid, "-downsample-coverage and -downsample-fraction are mutually exclusive")
	case *dsCoverage > 0:
		opts.Downsampling = engine.Downsampling{Mode: engine.DownsamplePerSample, Coverage: *dsCoverage, Seed: *seed}
	case *dsFraction > 0:
		opts.Downsampling = engine.Downsampling{Mode: engine.DownsampleByFraction, Fraction: *dsFraction, Seed: *seed}
	}
	return opts, nil
}

func run(ctx context.Context, readPaths []string) (err error) {
	s, err := validation.ParseStringency(*stringency)
	if err != nil {
		return err
	}
	readOpts := readsource.DefaultOpts
	readOpts.Stringency = s
	readOpts.SortOnTheFly = *sortOnTheFly
	readOpts.MaxOnFlySorts = *maxOnFly
	readOpts.ThreadedIO = *threadedIO
	readOpts.Index = *indexPath

	engineOpts := engine.DefaultOpts
	engineOpts.MaxReads = *maxReads
	engineOpts.MaxLoci = *maxLoci
	engineOpts.Stringency = s
	engineOpts.FilterIndels = *filterIndels
	engineOpts.Label = "bio-locus-walk"

	wopts, err := walkerOpts()
	if err != nil {
		return err
	}

	ref, err := reference.Open(ctx, *refPath)
	if err != nil {
		return err
	}
	defer func() {
		if e := ref.Close(); e != nil && err == nil {
			err = e
		}
	}()
	reads, err := readsource.Open(ctx, readPaths, readOpts)
	if err != nil {
		return err
	}
	defer func() {
		if e := reads.Close(); e != nil && err == nil {
			err = e
		}
	}()
	samples := headerSamples(reads.Header())
	log.Printf("bio-locus-walk: %d read files, %d samples", len(reads.Sources()), len(samples))

	dict := ref.Dictionary()
	var intervals *interval.Set
	switch {
	case *bedPath != "" && len(regions) > 0:
		return errors.E(errors.Invalid, "-intervals and -region are mutually exclusive")
	case *bedPath != "":
		if intervals, err = interval.NewSetFromBED(ctx, *bedPath, dict, interval.MergeOverlapping); err != nil {
			return err
		}
	case len(regions) > 0:
		if intervals, err = interval.ParseRegions(dict, regions, interval.MergeOverlapping); err != nil {
			return err
		}
	}
	var tracks []rod.Track
	for _, v := range rods {
		t, err := parseTrack(ctx, v, dict)
		if err != nil {
			return err
		}
		tracks = append(tracks, t)
	}

	var sum interface{}
	if *parallelism > 1 && intervals != nil {
		open := func(ctx context.Context) (engine.Inputs, func() error, error) {
			shardRef := ref
			if !ref.InMemory() {
				r, err := reference.Open(ctx, *refPath)
				if err != nil {
					return engine.Inputs{}, nil, err
				}
				shardRef = r
			}
			shardReads, err := readsource.Open(ctx, readPaths, readOpts)
			if err != nil {
				if shardRef != ref {
					shardRef.Close() // nolint: errcheck
				}
				return engine.Inputs{}, nil, err
			}
			closer := func() error {
				var once errors.Once
				once.Set(shardReads.Close())
				if shardRef != ref {
					once.Set(shardRef.Close())
				}
				return once.Err()
			}
			return engine.Inputs{Reads: shardReads, Reference: shardRef, Tracks: tracks}, closer, nil
		}
		newWalker := func() engine.Walker {
			// Options were validated by the first NewWalker call below.
			w, _ := genotyper.NewWalker(samples, reads, wopts)
			return w
		}
		if _, err = genotyper.NewWalker(samples, reads, wopts); err != nil {
			return err
		}
		nShards := *shards
		if nShards <= 0 {
			nShards = 4 * *parallelism
		}
		if sum, _, err = engine.TraverseSharded(ctx, open, newWalker, intervals, nShards, *parallelism, engineOpts); err != nil {
			return err
		}
	} else {
		if *parallelism > 1 {
			log.Printf("bio-locus-walk: -parallelism needs -intervals or -region; traversing sequentially")
		}
		w, err := genotyper.NewWalker(samples, reads, wopts)
		if err != nil {
			return err
		}
		e := engine.New(engine.Inputs{Reads: reads, Reference: ref, Tracks: tracks, Intervals: intervals}, engineOpts)
		if err = e.Initialize(ctx); err != nil {
			return err
		}
		sum, err = e.Traverse(w)
		if cerr := e.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	calls := sum.(*genotyper.CallSet).Calls
	if strings.HasSuffix(*outPath, ".rio") {
		contigs := make([]string, dict.Len())
		for i, c := range dict.Contigs() {
			contigs[i] = c.Name
		}
		return genotyper.WriteSitesRioFile(ctx, *outPath, contigs, samples, calls)
	}
	return genotyper.WriteCallsFile(ctx, *outPath, samples, calls, *parallelism)
}

func main() {
	flag.Var(&regions, "region", "Restrict the traversal to a region, as <contig>, <contig>:<pos>, <contig>:<start>-<end> or <contig>:<start>+; repeatable")
	flag.Var(&rods, "rod", "Reference-ordered data track, as name:type:path with type vcf or bed; repeatable")
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if *refPath == "" {
		log.Fatalf("-ref is required")
	}
	if flag.NArg() == 0 {
		log.Fatalf("Missing positional arguments (at least one read path required)")
	}
	ctx := vcontext.Background()
	if err := run(ctx, flag.Args()); err != nil {
		if validation.IsUserError(err) {
			log.Fatalf("%v", err)
		}
		log.Panicf("%v", err)
	}
	log.Debug.Printf("exiting")
}
