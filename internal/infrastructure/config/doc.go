// Package config handles loading and validating the Aptus Home bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (APTUSHOME_*)
//   - Validation of required fields
//
// Security Considerations:
//   - Portal credentials and the JWT secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Aptus.Host)
package config
