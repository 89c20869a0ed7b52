package main

import "github.com/oshokin/tuya-alarm/cmd/tuya-alarm-server/cmd"

func main() {
	cmd.Execute()
}
