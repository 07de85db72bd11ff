package main

import "github.com/kjstillabower/himalayan-rainfall-viewer/internal/cli"

func main() {
	cli.Execute()
}
