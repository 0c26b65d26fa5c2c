// Command auctoritas runs housekeeping and key tooling for an auctoritas
// deployment: expiry sweeps with a Prometheus endpoint, schema migration,
// signing key generation, JWKS publication and a local load test.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
