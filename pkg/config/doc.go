// Package config loads the YAML configuration of vmorch.
//
// A configuration file names the endpoint to log in to, the guest
// credential used for guest operations, and the timing of waits, retries
// and polling:
//
//	endpoint:
//	  address: vc.example.com
//	  user: administrator@vsphere.local
//	  insecure: true
//	guest:
//	  username: root
//	timeouts:
//	  script: 30m
//	  power: 5m
//	polling:
//	  divisor: 60
//	  min_interval: 10s
//	telemetry:
//	  logging:
//	    level: debug
//
// Passwords are usually supplied through VMORCH_PASSWORD and
// VMORCH_GUEST_PASSWORD rather than written to the file. Unset values keep
// their defaults; Load validates the result with go-playground/validator.
package config
