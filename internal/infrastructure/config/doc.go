// Package config loads and validates the bridge's YAML configuration.
//
// Loading is a three-step pipeline: defaults, YAML file, HTDBRIDGE_
// environment overrides. Validation runs last, so an env var can both
// break and repair a config file. Secrets (broker password, InfluxDB
// token) belong in the environment, not the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.Connection)
package config
