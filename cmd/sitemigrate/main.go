// Command sitemigrate migrates WordPress databases between environments.
package main

import "github.com/joeycumines/go-sitemigrate/cmd"

func main() {
	cmd.Execute()
}
