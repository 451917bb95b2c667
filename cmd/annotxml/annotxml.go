package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/labelstore/pkg/annotation"
	"github.com/cyclopcam/labelstore/pkg/annotzip"
	"github.com/cyclopcam/labelstore/pkg/xmlconv"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

// buildTask creates a task whose frames and labels are those that the documents refer to
func buildTask(docs [][]byte, name, mode string) (*annotation.TaskData, error) {
	labels := xmlconv.NewLabelColors()
	byFrame := map[int]xmlconv.FrameRef{}
	for _, doc := range docs {
		if err := xmlconv.ExtractLabels(bytes.NewReader(doc), labels); err != nil {
			return nil, err
		}
		refs, err := xmlconv.ScanFrames(bytes.NewReader(doc))
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if _, ok := byFrame[ref.Frame]; !ok {
				byFrame[ref.Frame] = ref
			}
		}
	}
	info := annotation.TaskInfo{
		ID:        1,
		Name:      name,
		Mode:      mode,
		FrameStep: 1,
	}
	for _, n := range labels.Names() {
		color, _ := labels.Color(n)
		info.Labels = append(info.Labels, annotation.Label{Name: n, Color: color})
	}
	for _, ref := range byFrame {
		info.Frames = append(info.Frames, annotation.FrameInfo{Frame: ref.Frame, Path: ref.Name, Width: ref.Width, Height: ref.Height})
	}
	sort.Slice(info.Frames, func(i, j int) bool {
		return info.Frames[i].Frame < info.Frames[j].Frame
	})
	if len(info.Frames) != 0 {
		info.StartFrame = info.Frames[0].Frame
		info.StopFrame = info.Frames[len(info.Frames)-1].Frame
	}
	return annotation.NewTaskData(info), nil
}

func main() {
	registry := annotzip.NewDefaultRegistry()
	formats := []string{}
	for _, f := range registry.Exporters() {
		formats = append(formats, f.DisplayName())
	}

	parser := argparse.NewParser("annotxml", "Convert an annotation XML document or archive into another export format")
	input := parser.String("i", "input", &argparse.Options{Help: "Input annotation XML file, or zip archive", Required: true})
	output := parser.String("o", "output", &argparse.Options{Help: "Output zip archive", Required: true})
	format := parser.Selector("f", "format", formats, &argparse.Options{Help: "Output format", Default: "CVAT for images 1.1"})
	taskName := parser.String("n", "name", &argparse.Options{Help: "Task name in the output metadata", Default: "converted"})
	mode := parser.Selector("m", "mode", []string{annotation.ModeAnnotation, annotation.ModeInterpolation}, &argparse.Options{Help: "Task mode", Default: annotation.ModeAnnotation})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	raw, err := os.ReadFile(*input)
	check(err)
	ctx := context.Background()
	docs, err := annotzip.ReadDocuments(ctx, logger, bytes.NewReader(raw), int64(len(raw)))
	check(err)
	td, err := buildTask(docs, *taskName, *mode)
	check(err)
	logger.Infof("Found %v frames and %v labels", len(td.Task.Frames), len(td.Task.Labels))

	importer, err := registry.Importer("CVAT 1.1")
	check(err)
	exporter, err := registry.Exporter(*format)
	check(err)

	check(importer.Import(ctx, logger, bytes.NewReader(raw), int64(len(raw)), td))
	logger.Infof("Loaded %v shapes, %v tracks, %v tags", len(td.Anno.Shapes), len(td.Anno.Tracks), len(td.Anno.Tags))

	f, err := os.Create(*output)
	check(err)
	err = exporter.Export(ctx, logger, f, td, annotzip.ExportOptions{})
	if errClose := f.Close(); err == nil {
		err = errClose
	}
	if err != nil {
		os.Remove(*output)
	}
	check(err)
	logger.Infof("Wrote %v", *output)
}
