package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/hauke96/sigolo/v2"

	"osmstore/internal/debugsrv"
	"osmstore/internal/dump"
	"osmstore/internal/extract"
	"osmstore/internal/load"
)

const VERSION = "v0.1.0"

var cli struct {
	Logging string      `help:"Logging verbosity." enum:"info,debug,trace" short:"l" default:"info"`
	Version VersionFlag `help:"Print version information and quit" name:"version" short:"v"`
	Load    struct {
		DbDir string `help:"The database directory to create/update." arg:"" type:"path"`
		Input string `help:"The input .osm.pbf file." arg:"" type:"existingfile"`
	} `cmd:"" help:"Loads an OSM PBF file into a database directory."`
	Extract struct {
		DbDir  string `help:"The database directory to read from." arg:"" type:"path"`
		BBox   string `help:"The bounding box as min_lon,min_lat,max_lon,max_lat." arg:""`
		Output string `help:"The output file, or '-' for stdout. A .vex extension selects the custom binary format; anything else is PBF." arg:""`
	} `cmd:"" help:"Extracts a bounding box from a database into a PBF or vex file."`
	Dump struct {
		DbDir string `help:"The database directory to inspect." arg:"" type:"path"`
	} `cmd:"" help:"Prints a textual summary of a database's contents."`
	Serve struct {
		DbDir string `help:"The database directory to serve." arg:"" type:"path"`
		Port  string `help:"The port to listen on." short:"p" default:"8080"`
	} `cmd:"" help:"Serves a read-only debug HTTP status server over a database."`
}

type VersionFlag string

func (v VersionFlag) Decode(ctx *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                         { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

func main() {
	ctx := kong.Parse(
		&cli,
		kong.Name("osmstore"),
		kong.Description("A filtered OSM PBF store and spatial extractor."),
		kong.Vars{
			"version": VERSION,
		},
	)

	switch strings.ToLower(cli.Logging) {
	case "debug":
		sigolo.SetDefaultLogLevel(sigolo.LOG_DEBUG)
	case "trace":
		sigolo.SetDefaultLogLevel(sigolo.LOG_TRACE)
	case "info":
		sigolo.SetDefaultLogLevel(sigolo.LOG_INFO)
		sigolo.SetDefaultFormatFunctionAll(sigolo.LogPlain)
	default:
		sigolo.SetDefaultFormatFunctionAll(sigolo.LogPlain)
		sigolo.Fatalf("Unknown logging level '%s'", cli.Logging)
	}

	switch ctx.Command() {
	case "load <db-dir> <input>":
		stats, err := load.Load(cli.Load.DbDir, cli.Load.Input)
		sigolo.FatalCheck(err)
		sigolo.Infof("loaded %d nodes, %d ways, %d relations", stats.NodesLoaded, stats.WaysLoaded, stats.RelationsLoaded)

	case "extract <db-dir> <b-box> <output>":
		bbox, err := parseBBox(cli.Extract.BBox)
		sigolo.FatalCheck(err)

		out := io.Writer(os.Stdout)
		if cli.Extract.Output != "-" {
			f, err := os.Create(cli.Extract.Output)
			sigolo.FatalCheck(err)
			defer f.Close()
			out = f
		}

		format := extract.FormatPBF
		if strings.HasSuffix(cli.Extract.Output, ".vex") {
			format = extract.FormatVex
		}

		err = extract.Extract(cli.Extract.DbDir, bbox, out, format)
		sigolo.FatalCheck(err)

	case "dump <db-dir>":
		err := dump.Dump(cli.Dump.DbDir, os.Stdout)
		sigolo.FatalCheck(err)

	case "serve <db-dir>":
		err := debugsrv.Start(cli.Serve.DbDir, cli.Serve.Port)
		sigolo.FatalCheck(err)

	default:
		sigolo.Errorf("Unknown command '%s'", ctx.Command())
		os.Exit(1)
	}
}

func parseBBox(s string) (extract.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return extract.BBox{}, fmt.Errorf("bounding box must have 4 comma-separated values, got %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return extract.BBox{}, fmt.Errorf("invalid bounding box value %q: %w", p, err)
		}
		vals[i] = v
	}
	return extract.BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}, nil
}
