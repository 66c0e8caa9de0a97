package main

import "github.com/example/court-sniper/cmd"

func main() {
	cmd.Execute()
}
