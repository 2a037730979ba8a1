package main

import "github.com/audiolibrelab/dailycapture/cmd"

func main() {
	cmd.Execute()
}
