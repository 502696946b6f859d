// bio-pbitool builds and queries PacBio BAM indexes (.pbi files).
//
//	bio-pbitool index [-parallelism N] a.bam b.bam ...
//	bio-pbitool view -filter 'zm == [1,2] && rq >= 0.8' -order position a.bam b.bam
//	bio-pbitool stats a.bam.pbi
//	bio-pbitool checksum a.bam.pbi
package main

import (
	"os"

	"github.com/grailbio/pacbio/cmd/bio-pbitool/cmd"
)

func main() {
	os.Exit(cmd.Run(os.Args[1:]))
}
