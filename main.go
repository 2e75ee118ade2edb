package main

import "github.com/frahmantamala/roomshare/cmd"

func main() {
	cmd.Execute()
}
