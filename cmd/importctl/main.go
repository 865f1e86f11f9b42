package main

import (
	"fmt"
	"os"

	"github.com/JonMunkholm/catalog-import/internal/cli"
)

func main() {
	if err := cli.Execute(os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
