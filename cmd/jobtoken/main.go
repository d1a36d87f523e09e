// Command jobtoken prints a bearer token for POST /api/jobs/scheduled-publish.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/maheshrc27/postflow/pkg/utils"
)

func main() {
	subject := flag.String("subject", "external-scheduler", "caller recorded in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("JOB_SECRET")
	if len(secret) < 16 {
		fmt.Fprintln(os.Stderr, "JOB_SECRET must be set to at least 16 characters")
		os.Exit(1)
	}

	token, err := utils.GenerateJobToken(secret, *subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
