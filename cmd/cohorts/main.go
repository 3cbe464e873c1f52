package main

import (
	"fmt"
	"os"

	_ "cohort-retention-service/docs"
)

// @title Cohort Retention Service
// @version 1.0
// @description Computes user-retention cohorts from homeserver activity and upserts them into the stats database.
// @BasePath /
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
