package main

import "github.com/nicferr/anacsync/cmd"

func main() {
	cmd.Execute()
}
