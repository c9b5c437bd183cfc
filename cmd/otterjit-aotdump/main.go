// otterjit-aotdump prints the contents of a persistent AOT IR cache
// file (spec §4.G's on-disk format): the file identity, every entry's
// guest offset, hash and blob sizes, and summary totals.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/otterjit/otterjit/internal/aotcache"
	"github.com/otterjit/otterjit/internal/ir"
)

func main() {
	showIR := flag.Bool("ir", false, "also disassemble each entry's serialized IR header")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: otterjit-aotdump [flags] <cache-file>\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	r, err := aotcache.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "otterjit-aotdump: %v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	fmt.Printf("file identity: %s\n", r.FileID())

	var count, totalIR int
	r.Entries(func(startOffset, guestHash, guestLength uint64, raLen, irLen int) {
		count++
		totalIR += irLen
		fmt.Printf("  +0x%-10x hash %016x  guest %4d bytes  ra %5d  ir %6d\n",
			startOffset, guestHash, guestLength, raLen, irLen)

		if *showIR {
			if _, blob, ok := r.Lookup(startOffset, guestHash); ok {
				if b, err := ir.Deserialize(blob); err == nil {
					fmt.Printf("    block 0x%x-0x%x, %d nodes, %d consts, exit kind %d\n",
						b.StartRIP, b.EndRIP, len(b.Nodes)-1, len(b.Consts), b.Exit.Kind)
				}
			}
		}
	})
	fmt.Printf("%d entries, %d bytes of serialized IR\n", count, totalIR)
}
