package main

import (
	"log"
	"os"

	_ "github.com/viant/scy/kms/blowfish"

	"github.com/viant/mcp-apps/shim"
)

func main() {
	if err := shim.Run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
