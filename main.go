package main

import "image-press/cmd"

func main() {
	cmd.Execute()
}
