// Package config loads the lanlight daemon configuration.
//
// Configuration is read from a YAML file, overridden by LANLIGHT_*
// environment variables and validated before use:
//
//	cfg, err := config.Load("/etc/lanlight/lanlight.yaml")
//	if err != nil {
//	    return err
//	}
//	svcCfg := cfg.ServiceConfig()
//
// Secrets such as the MQTT password should be supplied through the
// environment rather than the file.
package config
