// ./main.go
package main

import (
	"github.com/xkilldash9x/autoapply/cmd"
)

// main is the entry point for the autoapply CLI.
func main() {
	cmd.Execute()
}
