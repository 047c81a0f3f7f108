package main

import (
	"math/rand"
	"time"

	"github.com/luma/courier/cmd"
)

func main() {
	// Queue group members are picked at random by the broker
	rand.Seed(time.Now().UnixNano())

	cmd.Execute()
}
