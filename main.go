package main

import "github.com/ValentinKolb/goTNT/cmd"

func main() {
	cmd.Execute()
}
