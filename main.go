package main

import "resynth/cmd"

func main() {
	cmd.Execute()
}
