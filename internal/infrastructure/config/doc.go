// Package config handles loading and validating Gray Logic IoT configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading a local .env file into the environment
//   - Overriding with GRAYLOGIC_IOT_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Broker credentials and InfluxDB tokens should be set via environment variables
//   - Private key files should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Shadow.ThingName)
package config
