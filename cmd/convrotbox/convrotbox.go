package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/labelstore/pkg/xmlconv"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func check(err error) {
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

// Shows at most this many missing or unreferenced names
const maxListedNames = 20

func listNames(title string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Printf("%v (%v):\n", title, len(names))
	for i, n := range names {
		if i == maxListedNames {
			fmt.Printf("  ... and %v more\n", len(names)-maxListedNames)
			break
		}
		fmt.Printf("  %v\n", n)
	}
}

func main() {
	parser := argparse.NewParser("convrotbox", "Convert 4-point polygons to rotated boxes, and renumber frames from an image list")
	input := parser.String("i", "input", &argparse.Options{Help: "Input annotation XML file", Required: true})
	output := parser.String("o", "output", &argparse.Options{Help: "Output annotation XML file", Required: true})
	imageListFile := parser.String("l", "imagelist", &argparse.Options{Help: "Image list file (one pure image name per line). Image ids are replaced by the line number", Default: ""})
	noRotbox := parser.Flag("", "norotbox", &argparse.Options{Help: "Don't convert polygons to rotbox", Default: false})
	exclude := parser.String("x", "exclude", &argparse.Options{Help: "Comma-separated list of labels whose polygons are never converted", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	opts := xmlconv.ConvertOptions{
		Rotbox:        !*noRotbox,
		RotboxExclude: map[string]bool{},
	}
	for _, label := range strings.Split(*exclude, ",") {
		if label = strings.TrimSpace(label); label != "" {
			opts.RotboxExclude[label] = true
		}
	}
	if *imageListFile != "" {
		opts.ImageList, err = xmlconv.ReadImageListFile(*imageListFile)
		check(err)
	}

	in, err := os.Open(*input)
	check(err)
	defer in.Close()
	out, err := os.Create(*output)
	check(err)
	bw := bufio.NewWriter(out)
	stats, err := xmlconv.Convert(bufio.NewReader(in), bw, opts)
	if err == nil {
		err = bw.Flush()
	}
	if errClose := out.Close(); err == nil {
		err = errClose
	}
	if err != nil {
		os.Remove(*output)
	}
	check(err)

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"", "Count"})
	tw.AppendRow(table.Row{"Images", stats.Images})
	tw.AppendRow(table.Row{"Objects", stats.Objects})
	tw.AppendRow(table.Row{"Converted to rotbox", stats.Rotbox})
	tw.AppendRow(table.Row{"Conversion errors", stats.ConversionErrors})
	if opts.ImageList != nil {
		tw.AppendRow(table.Row{"Missing from image list", len(stats.Missing)})
		tw.AppendRow(table.Row{"Unreferenced in image list", len(stats.Unreferenced)})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	fmt.Println(tw.Render())

	listNames("Images missing from the image list", stats.Missing)
	listNames("Image list names that no image referred to", stats.Unreferenced)
}
