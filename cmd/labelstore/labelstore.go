package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/labelstore/server"
)

func main() {
	parser := argparse.NewParser("labelstore", "Store of annotated images and videos, for training")
	configFilePath := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: "labelstore.json"})
	listen := parser.String("l", "listen", &argparse.Options{Help: "Listen address, eg ':8080'. Overrides the config file", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	s, err := server.NewServerFromFile(*configFilePath)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
	s.ListenForKillSignals()
	if err := s.ListenHTTP(*listen); err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}
