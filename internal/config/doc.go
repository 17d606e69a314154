// Package config provides configuration management for the discovery server.
//
// Configuration is loaded from environment variables using the env package.
// All values have defaults suitable for a single-node development setup
// with in-memory state.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
