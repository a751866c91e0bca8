/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package main

import (
	"log"
	"os"
	"runtime/pprof"

	"github.com/jessegalley/diobench/cmd"
)

func main() {
	os.Exit(run())
}

// run returns the exit code after deferred cleanup has flushed the profile
func run() int {

	// profile the whole run when DIO_CPUPROFILE names an output file
	cpuProfile := os.Getenv("DIO_CPUPROFILE")
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Print(err)
			return 1
		}
		defer f.Close()

		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}
