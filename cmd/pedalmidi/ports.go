package main

import (
	"flag"
	"fmt"
	"os"

	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/chase3718/pedalmidi/internal/board"
	"github.com/chase3718/pedalmidi/internal/midiport"
)

func runPorts(args []string) int {
	fs := flag.NewFlagSet("ports", flag.ExitOnError)
	_ = fs.Parse(args)

	drv, err := rtmididrv.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: rtmididrv:", err)
		return 1
	}
	defer drv.Close()

	ins, outs, err := midiport.Ports(drv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	printList("MIDI inputs", ins)
	printList("MIDI outputs", outs)

	serials, err := board.ListSerial()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	printList("Serial devices", serials)
	return 0
}

func printList(title string, names []string) {
	fmt.Printf("%s:\n", title)
	if len(names) == 0 {
		fmt.Println("  (none)")
	}
	for i, n := range names {
		fmt.Printf("  %d: %s\n", i, n)
	}
}
