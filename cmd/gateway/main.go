package main

import "cache-ratelimit/cmd/gateway/cmd"

func main() {
	cmd.Execute()
}
