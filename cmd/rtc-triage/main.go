package main

import (
	"os"

	"github.com/rtcstack/rtc-triage/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
