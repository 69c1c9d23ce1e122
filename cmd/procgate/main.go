package main

import (
	"github.com/procgate/go-procgate/cmd/procgate/root"
)

func main() {
	root.Execute()
}
