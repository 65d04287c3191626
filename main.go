package main

import "github.com/ValentinKolb/objgraph/cmd"

func main() {
	cmd.Execute()
}
