package main

import "github.com/deemkeen/pubengine/cmd"

func main() {
	cmd.Execute()
}
