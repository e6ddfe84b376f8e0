package main

import "github.com/andresmejia3/watchtower/cmd"

func main() {
	cmd.Execute()
}
