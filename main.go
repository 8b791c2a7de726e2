package main

import "github.com/nengine/build-tools/cmd"

func main() {
	cmd.Execute()
}
