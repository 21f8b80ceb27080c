package main

import "github.com/grovechat/grove/cmd"

func main() {
	cmd.Execute()
}
