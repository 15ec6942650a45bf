// Command dbtrun loads a serialised ISA model and a flat guest memory
// image, then runs internal/harness's translate-execute loop against
// it for a given number of blocks (without bound when -steps is 0),
// grounded on
// bassosimone-risc32/cmd/vm's flag-driven "load a file, run a loop,
// log.Fatal on error" shape.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/corvid-dbt/corvid/internal/harness"
	"github.com/corvid-dbt/corvid/internal/model"
)

func main() {
	log.SetFlags(0)
	modelPath := flag.String("model", "", "path to a serialised ISA model file")
	memPath := flag.String("mem", "", "path to a flat guest physical memory image")
	initialPC := flag.Uint64("pc", 0, "initial guest virtual PC")
	steps := flag.Uint64("steps", 0, "number of blocks to execute (0 = unbounded)")
	verbose := flag.Bool("v", false, "log each executed block")
	debug := flag.Bool("debug", false, "dump the offending IR as a DOT graph to stderr on an invariant-violation panic")
	flag.Parse()

	if *modelPath == "" || *memPath == "" {
		log.Fatal("usage: dbtrun -model <model-file> -mem <memory-image> [-pc 0x...] [-steps N] [-v] [-debug]")
	}

	harness.Debug = *debug

	modelBytes, err := os.ReadFile(*modelPath)
	if err != nil {
		log.Fatalf("dbtrun: reading model file: %v", err)
	}
	m, err := model.Decode(modelBytes)
	if err != nil {
		log.Fatalf("dbtrun: decoding model: %v", err)
	}
	harness.RegisterModel(m.Name, m)

	memBytes, err := os.ReadFile(*memPath)
	if err != nil {
		log.Fatalf("dbtrun: reading memory image: %v", err)
	}
	mem := &harness.FlatGuestMemory{Bytes: memBytes}

	core, err := harness.NewCore(m, mem, harness.IdentityMMU{}, *initialPC)
	if err != nil {
		log.Fatalf("dbtrun: creating core: %v", err)
	}

	if *verbose {
		log.Printf("dbtrun: model %q, %d bytes of guest memory, starting at PC %#x", m.Name, len(memBytes), *initialPC)
	}

	n := uint64(0)
	for *steps == 0 || n < *steps {
		if err := core.Step(); err != nil {
			log.Fatalf("dbtrun: step %d: %v", n, err)
		}
		if *verbose {
			fmt.Printf("block %d: PC now %#x\n", n, core.Registers().Read64(m.RegOffset("_PC")))
		}
		n++
	}
}
