// Package main is the entry point for the Conduit gateway.
package main

func main() {
	Execute()
}
