package main

import "github.com/andresmejia3/facelens/cmd"

func main() {
	cmd.Execute()
}
