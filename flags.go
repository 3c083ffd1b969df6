package main

import "github.com/urfave/cli/v2"

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagConfig = &cli.StringFlag{
	Name:     "config",
	Usage:    "path to a TOML config file",
	EnvVars:  []string{"CONFIG"},
	Required: false,
}

var FlagBrokerURL = &cli.StringFlag{
	Name:     "broker-url",
	Usage:    "tcp://broker:port",
	EnvVars:  []string{"BROKER_URL"},
	Required: false,
}

var FlagDeviceID = &cli.StringFlag{
	Name:     "device-id",
	EnvVars:  []string{"DEVICE_ID"},
	Required: false,
}

var FlagMQTTUsername = &cli.StringFlag{
	Name:     "mqtt-username",
	EnvVars:  []string{"MQTT_USERNAME"},
	Required: false,
}

var FlagMQTTPassword = &cli.StringFlag{
	Name:     "mqtt-password",
	EnvVars:  []string{"MQTT_PASSWORD"},
	Required: false,
}

var FlagProbeAddr = &cli.StringFlag{
	Name:     "probe-addr",
	Usage:    "host:port probed for network reachability, defaults to the broker address",
	EnvVars:  []string{"PROBE_ADDR"},
	Required: false,
}

var FlagMetricsAddr = &cli.StringFlag{
	Name:     "metrics-addr",
	Usage:    "listen address for the prometheus endpoint, empty disables it",
	EnvVars:  []string{"METRICS_ADDR"},
	Required: false,
}
