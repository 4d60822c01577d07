// Package config loads pcesched configuration.
//
// Values come from, in increasing precedence: built-in defaults, a config
// file (YAML or JSON), a .env file and PCESCHED_* environment variables.
// Nested keys use an underscore in the environment, so log.level is read
// from PCESCHED_LOG_LEVEL. The config.json written by earlier tools, with
// its pce_url, org_id, api_key and api_secret keys, is read unchanged, and
// ILLUMIO_CHECK_INTERVAL (whole seconds) is honored when
// PCESCHED_CHECK_INTERVAL is unset.
//
// A minimal file:
//
//	pce_url: https://pce.example.com:8443
//	org_id: "1"
//	api_key: api_1234
//	api_secret: secret
//	check_interval: 5m
//	timezone: Asia/Taipei
//	policy:
//	  paths: [./policies]
package config
