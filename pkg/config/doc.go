// Package config loads, validates and watches the dispatcher configuration.
//
// # Loading
//
//	cfg, err := config.LoadConfig("dispatch.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("dispatch.yaml")
//
// Values are applied in this order, later overriding earlier:
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. A .env file next to the config file or in the working directory
//  4. DISPATCH_SECTION_FIELD environment variables
//
// The result is validated and every problem is reported at once:
//
//	configuration validation failed with 2 errors:
//	  - scheduler.batch_size: batch size must be positive
//	  - channels[0].url: url is required for webhook channels
//
// Channel secrets can be supplied as DISPATCH_CHANNELS_<NAME>_TOKEN.
//
// # Example
//
//	scheduler:
//	  interval: 30s
//	  batch_size: 10
//	  cost_per_message: 0.002
//
//	limits:
//	  assignments:
//	    owner-42: pro
//
//	store:
//	  path: data/dispatch.db
//
//	channels:
//	  - name: telegram-bridge
//	    platform: telegram
//	    url: http://localhost:7000/send
//
//	notify:
//	  enabled: true
//
// # Hot reload
//
// Watcher re-reads the file on change. The daemon uses it to swap the tier
// catalog without a restart; other sections take effect on the next start.
package config
