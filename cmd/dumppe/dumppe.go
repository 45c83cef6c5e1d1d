// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// dumppe streams a PE file through remake and prints what it observed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tc-hib/winres"

	"github.com/dblohm7/peremake/pe"
	"github.com/dblohm7/peremake/remake"
)

var dumpHeaders bool
var dumpSections bool
var dumpDirectories bool
var dumpTables bool
var dumpAuthenticode bool
var dumpDebugInfo bool
var dumpResources bool
var dumpVersion bool
var verbose bool

func init() {
	flag.Usage = usage
	flag.BoolVar(&dumpHeaders, "headers", false, "dump essential headers")
	flag.BoolVar(&dumpSections, "sections", false, "dump section headers")
	flag.BoolVar(&dumpDirectories, "directories", false, "dump data directory entries")
	flag.BoolVar(&dumpTables, "tables", false, "dump tables extracted from the data directory")
	flag.BoolVar(&dumpAuthenticode, "authenticode", false, "dump authenticode certificates")
	flag.BoolVar(&dumpDebugInfo, "debuginfo", false, "dump debug info")
	flag.BoolVar(&dumpResources, "resources", false, "dump resources")
	flag.BoolVar(&dumpVersion, "version", false, "dump version info (Windows only)")
	flag.BoolVar(&verbose, "v", false, "log transform progress to stderr")
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintln(flag.CommandLine.Output(), "  <filePath>\n\tpath to PE file")
}

func usageln(args ...any) {
	fmt.Fprintln(flag.CommandLine.Output(), args...)
	usage()
	os.Exit(2)
}

func main() {
	flag.Parse()
	filePath := flag.Arg(0)
	if filePath == "" {
		usageln("No file path provided")
	}

	f, err := os.Open(filePath)
	if err != nil {
		log.Fatalf("error opening %q: %v\n", filePath, err)
	}
	defer f.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if verbose {
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.DebugLevel)
	}

	res, err := scan(context.Background(), f, logger)
	if err != nil {
		log.Fatalf("error reading %q: %v\n", filePath, err)
	}

	w := os.Stdout
	if dumpHeaders {
		runDumpHeaders(w, res)
	}
	if dumpSections {
		runDumpSections(w, res)
	}
	if dumpDirectories {
		runDumpDirectories(w, res)
	}
	if dumpTables {
		runDumpTables(w, res)
	}
	if dumpAuthenticode {
		runDumpAuthenticode(w, res)
	}
	if dumpDebugInfo {
		runDumpDebugInfo(w, res, f)
	}
	if dumpResources {
		runDumpResources(w, f)
	}
	if dumpVersion {
		runDumpVersion(w, filePath)
	}
}

// scanResult is everything a single pass over the file produced.
type scanResult struct {
	headers *remake.Headers
	tables  map[pe.DataDirectoryIndex]remake.Table
	stats   remake.Stats
}

func scan(ctx context.Context, r io.Reader, logger logrus.FieldLogger) (*scanResult, error) {
	res := &scanResult{tables: make(map[pe.DataDirectoryIndex]remake.Table)}
	stats, err := remake.Copy(ctx, io.Discard, r,
		remake.WithLogger(logger),
		remake.WithHeadersObserver(remake.HeadersObserverFunc(func(hdrs *remake.Headers) {
			res.headers = hdrs
		})),
		remake.WithTableObserver(remake.TableObserverFunc(func(table remake.Table) {
			res.tables[table.Index] = table
		})),
	)
	if err != nil {
		return nil, err
	}
	res.stats = stats
	return res, nil
}

func runDumpHeaders(w io.Writer, res *scanResult) {
	hdrs := res.headers
	fmt.Fprintf(w, "Streamed %d bytes\n", res.stats.BytesIn)
	fmt.Fprintf(w, "PE header offset: 0x%X\n\n", hdrs.PEOffset)
	fmt.Fprintf(w, "FileHeader:\n\n%#v\n\n", hdrs.FileHeader)

	oh := hdrs.OptionalHeader
	fmt.Fprintf(w, "OptionalHeader:\n\n")
	fmt.Fprintf(w, "  Magic:               0x%04X\n", oh.GetMagic())
	major, minor := oh.GetLinkerVersion()
	fmt.Fprintf(w, "  LinkerVersion:       %d.%d\n", major, minor)
	fmt.Fprintf(w, "  AddressOfEntryPoint: 0x%08X\n", oh.GetAddressOfEntryPoint())
	fmt.Fprintf(w, "  ImageBase:           0x%016X\n", oh.GetImageBase())
	fmt.Fprintf(w, "  SectionAlignment:    0x%X\n", oh.GetSectionAlignment())
	fmt.Fprintf(w, "  FileAlignment:       0x%X\n", oh.GetFileAlignment())
	fmt.Fprintf(w, "  SizeOfImage:         0x%X\n", oh.GetSizeOfImage())
	fmt.Fprintf(w, "  SizeOfHeaders:       0x%X\n", oh.GetSizeOfHeaders())
	fmt.Fprintf(w, "  CheckSum:            0x%08X\n", oh.GetCheckSum())
	fmt.Fprintf(w, "  Subsystem:           %d\n", oh.GetSubsystem())
	fmt.Fprintf(w, "  DllCharacteristics:  0x%04X\n", oh.GetDllCharacteristics())
	fmt.Fprintf(w, "  SizeOfStackReserve:  0x%X\n", oh.GetSizeOfStackReserve())
	fmt.Fprintf(w, "  NumberOfRvaAndSizes: %d\n\n", oh.GetNumberOfRvaAndSizes())
}

func runDumpSections(w io.Writer, res *scanResult) {
	sections := res.headers.Sections
	fmt.Fprintf(w, "%d sections:\n\n", len(sections))
	for i, sec := range sections {
		fmt.Fprintf(w, "Index %2d: %-8s VA 0x%08X VS 0x%08X Raw 0x%08X@0x%08X Flags 0x%08X\n",
			i, sec.NameString(), sec.VirtualAddress, sec.VirtualSize, sec.SizeOfRawData, sec.PointerToRawData, sec.Characteristics)
	}
	fmt.Fprintln(w)
}

func runDumpDirectories(w io.Writer, res *scanResult) {
	fmt.Fprintf(w, "Data directory:\n\n")
	for _, dd := range res.headers.DataDirectories {
		if !dd.Present() {
			continue
		}
		fmt.Fprintf(w, "%2d %-22s 0x%08X 0x%08X\n", int(dd.Index), dd.Index, dd.VirtualAddress, dd.Size)
	}
	fmt.Fprintln(w)
}

func runDumpTables(w io.Writer, res *scanResult) {
	fmt.Fprintf(w, "%d tables extracted:\n\n", len(res.tables))
	for _, dd := range res.headers.DataDirectories {
		table, ok := res.tables[dd.Index]
		if !ok {
			continue
		}
		n := min(len(table.Data), 16)
		fmt.Fprintf(w, "%-22s %d bytes: % X\n", table.Index, len(table.Data), table.Data[:n])
	}
	fmt.Fprintln(w)
}

func runDumpAuthenticode(w io.Writer, res *scanResult) {
	table, ok := res.tables[pe.IMAGE_DIRECTORY_ENTRY_SECURITY]
	if !ok {
		fmt.Fprintf(w, "No authenticode certificates\n\n")
		return
	}
	certs, err := pe.ParseAuthenticodeCerts(table.Data)
	if err != nil {
		log.Printf("error parsing certificate table: %v\n", err)
		return
	}
	fmt.Fprintf(w, "%d authenticode certificates:\n\n", len(certs))
	for i, c := range certs {
		fmt.Fprintf(w, "Index %2d: revision 0x%04X type 0x%04X, %d bytes\n", i, c.Revision(), c.Type(), len(c.Data()))
	}
	fmt.Fprintln(w)
}

func runDumpDebugInfo(w io.Writer, res *scanResult, r io.ReaderAt) {
	table, ok := res.tables[pe.IMAGE_DIRECTORY_ENTRY_DEBUG]
	if !ok {
		fmt.Fprintf(w, "No debug directory entries\n\n")
		return
	}
	entries, err := pe.ParseDebugDirectories(table.Data)
	if err != nil {
		log.Printf("error parsing debug directory: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Debug Info:\n\n")
	for _, de := range entries {
		fmt.Fprintf(w, "Type: %d\n", de.Type)
		if de.Type != pe.IMAGE_DEBUG_TYPE_CODEVIEW {
			continue
		}
		cv, err := pe.ParseCodeViewInfo(r, de)
		if err != nil {
			log.Printf("error reading CodeView info: %v\n", err)
			continue
		}
		fmt.Fprintf(w, "  PDB: %s\n  Symbol server key: %s\n", cv.PDBPath, cv.String())
	}
	fmt.Fprintln(w)
}

func runDumpResources(w io.Writer, r io.ReadSeeker) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		log.Printf("error rewinding: %v\n", err)
		return
	}
	rs, err := winres.LoadFromEXE(r)
	if err != nil {
		log.Printf("error loading resources: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Resources:\n\n")
	rs.Walk(func(typeID, resID winres.Identifier, langID uint16, data []byte) bool {
		fmt.Fprintf(w, "Type %v, ID %v, Lang 0x%04X: %d bytes\n", typeID, resID, langID, len(data))
		return true
	})
	fmt.Fprintln(w)
}

func runDumpVersion(w io.Writer, filePath string) {
	fv, err := pe.QueryFileVersion(filePath)
	if err != nil {
		if errors.Is(err, pe.ErrNotPresent) {
			fmt.Fprintf(w, "No version info\n\n")
			return
		}
		log.Printf("error querying version info: %v\n", err)
		return
	}
	fmt.Fprintf(w, "File version:    %v\n", fv.File)
	fmt.Fprintf(w, "Product version: %v\n", fv.Product)
	fmt.Fprintf(w, "Company:         %s\n", fv.CompanyName)
	fmt.Fprintf(w, "Description:     %s\n", fv.FileDescription)
	fmt.Fprintf(w, "Product:         %s\n\n", fv.ProductName)
}
