package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/labelstore/pkg/xmlconv"
	"github.com/jedib0t/go-pretty/v6/table"
)

func check(err error) {
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("extractlabels", "Extract the label names and colors from annotation XML files")
	inputs := parser.StringList("i", "input", &argparse.Options{Help: "Input annotation XML file (may be repeated)", Required: true})
	output := parser.String("o", "output", &argparse.Options{Help: "Write the label JSON to this file, instead of stdout", Default: ""})
	showTable := parser.Flag("t", "table", &argparse.Options{Help: "Print a table of the labels", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	labels := xmlconv.NewLabelColors()
	for _, input := range *inputs {
		check(xmlconv.ExtractLabelsFile(input, labels))
	}

	if *showTable {
		tw := table.NewWriter()
		tw.SetStyle(table.StyleRounded)
		tw.AppendHeader(table.Row{"#", "Label", "Color"})
		for i, n := range labels.Names() {
			color, _ := labels.Color(n)
			tw.AppendRow(table.Row{i + 1, n, color})
		}
		fmt.Println(tw.Render())
	}

	js, err := labels.JSON()
	check(err)
	if *output != "" {
		check(os.WriteFile(*output, append(js, '\n'), 0644))
		fmt.Printf("Wrote %v labels to %v\n", labels.Len(), *output)
	} else if !*showTable {
		fmt.Println(string(js))
	}
}
