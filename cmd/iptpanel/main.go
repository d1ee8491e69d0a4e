package main

import (
	"fmt"
	"os"

	"github.com/denniswebb/iptpanel/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "iptpanel: %v\n", err)
		os.Exit(1)
	}
}
