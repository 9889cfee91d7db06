// Command knxgw-token mints an admin bearer token for a running
// gateway's diagnostics API. The gateway has no login endpoint — the
// JWT secret lives only in config.yaml and this process's environment,
// so an operator runs this out of band whenever a fresh token is
// needed.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nerrad567/knx-tpuart-gateway/internal/diagapi"
)

func main() {
	secret := flag.String("secret", "", "diagnostics API JWT secret (or set KNXGW_JWT_SECRET)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	token, err := run(*secret, os.Getenv("KNXGW_JWT_SECRET"), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

// run resolves the secret (flag takes precedence over the environment
// variable) and signs a token. Split out of main so it can be tested
// without touching flag.CommandLine or os.Exit.
func run(flagSecret, envSecret string, ttl time.Duration) (string, error) {
	secret := flagSecret
	if secret == "" {
		secret = envSecret
	}
	if secret == "" {
		return "", fmt.Errorf("-secret or KNXGW_JWT_SECRET must be set")
	}
	return diagapi.GenerateAdminToken(secret, ttl)
}
