package main

import "github.com/example/ccw-watcher/cmd"

func main() {
	cmd.Execute()
}
