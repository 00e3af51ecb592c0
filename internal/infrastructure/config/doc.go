// Package config loads and validates the sastrend.yaml configuration file.
//
// Loading happens once at startup: read the YAML, apply defaults for
// anything omitted, overlay environment variables, then validate the lot
// and refuse to start on the first hard error. There is no runtime reload;
// a trend tool mid-capture should never have its endpoint or buffer sizing
// changed underneath it.
//
// Environment overrides follow the pattern SASTREND_SECTION_KEY, e.g.
// SASTREND_DATABASE_PATH or SASTREND_JWT_SECRET. Credentials (broker
// password, Influx token, JWT secret) belong in the environment, not in the
// file; the file is expected to be committed to the site's config repo.
//
// Usage:
//
//	cfg, err := config.Load("configs/sastrend.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Controller.Endpoint.Address)
package config
