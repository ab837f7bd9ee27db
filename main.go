package main

import (
	"log"

	"ticket-redemption/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
