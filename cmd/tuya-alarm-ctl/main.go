package main

import "github.com/oshokin/tuya-alarm/cmd/tuya-alarm-ctl/cmd"

func main() {
	cmd.Execute()
}
