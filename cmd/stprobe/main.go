package main

import "github.com/OpenTraceLab/OpenTraceProbe/cmd/stprobe/cmd"

func main() {
	cmd.Execute()
}
