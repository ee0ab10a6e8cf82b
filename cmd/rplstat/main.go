// Command rplstat converts a stream of snapshot.Report dumps (written
// by the daemon's periodic state export) into CSV, one file per row
// kind, mirroring cmd/csvtool's "archive records in, CSV out" shape.
package main

import (
	"flag"
	"io"
	"log"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/rtx"

	"github.com/llnroute/rpl-node/snapshot"
	"github.com/llnroute/rpl-node/zstd"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// openFile opens fn, decompressing through zstd first when fn ends in
// ".zst", or returns os.Stdin if fn is empty.
func openFile(fn string) (io.ReadCloser, error) {
	if fn == "" {
		return os.Stdin, nil
	}
	if strings.HasSuffix(fn, ".zst") {
		return zstd.NewReader(fn), nil
	}
	return os.Open(fn)
}

func main() {
	flag.Parse()
	args := flag.Args()
	var source string
	switch len(args) {
	case 0:
	case 1:
		source = args[0]
	default:
		log.Fatal("Too many command-line arguments.")
	}

	rdr, err := openFile(source)
	rtx.Must(err, "Could not open %q", source)
	defer rdr.Close()

	instances, parents, routes, err := snapshot.LoadAll(rdr)
	rtx.Must(err, "Could not read snapshot reports")

	rtx.Must(writeCSV("instances.csv", instances), "Could not write instances.csv")
	rtx.Must(writeCSV("parents.csv", parents), "Could not write parents.csv")
	rtx.Must(writeCSV("routes.csv", routes), "Could not write routes.csv")
}

func writeCSV[T any](filename string, rows []T) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.Marshal(rows, f)
}
