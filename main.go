package main

import "media-fusion/cmd"

func main() {
	cmd.Execute()
}
