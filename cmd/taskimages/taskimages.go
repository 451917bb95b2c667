package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/labelstore/pkg/taskapi"
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

func main() {
	parser := argparse.NewParser("taskimages", "Fetch the image names of a task from a label store, and write them as an image list")
	serverURL := parser.String("s", "server", &argparse.Options{Help: "Label store URL", Default: "http://localhost:8080"})
	username := parser.String("u", "username", &argparse.Options{Help: "Username", Default: "admin"})
	email := parser.String("e", "email", &argparse.Options{Help: "Email", Default: "nanashinogonbe@xxx.com"})
	password := parser.String("p", "password", &argparse.Options{Help: "Password", Default: "admin"})
	taskName := parser.String("t", "task", &argparse.Options{Help: "Task name", Required: true})
	output := parser.String("o", "output", &argparse.Options{Help: "Output image list file", Required: true})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	client := taskapi.NewClient(*serverURL)
	check(client.Login(*username, *email, *password))
	task, err := client.FindTask(*taskName)
	check(err)
	names, err := client.FrameNames(task.ID)
	check(err)

	f, err := os.Create(*output)
	check(err)
	err = xmlconv.WriteImageList(f, names)
	if errClose := f.Close(); err == nil {
		err = errClose
	}
	check(err)

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Task", "ID", "Mode", "Images", "Output"})
	tw.AppendRow(table.Row{task.Name, task.ID, task.Mode, len(names), *output})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	fmt.Println(tw.Render())
}
