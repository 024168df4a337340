// github-loc estimates the total lines of code the authenticated user has
// contributed across every GitHub repository they can access.
package main

import (
	"github.com/naka-gawa/github-loc/cmd"
)

func main() {
	cmd.Execute()
}
