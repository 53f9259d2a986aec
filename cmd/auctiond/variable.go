package main

var (
	listenAddrDefault      = "127.0.0.1:7400"
	vsockPortDefault       = uint32(0)
	durationMinutesDefault = int64(60)
	logLevelDefault        = "info"
	readTimeoutDefault     = "30s"

	mqttPortDefault        = uint64(1883)
	mqttClientIDDefault    = "auctiond"
	mqttTopicPrefixDefault = "auction"
)

var maxWorkersEnv = "AUCTIOND_MAX_WORKERS"

var (
	listenAddr      string
	vsockPort       uint32
	owner           string
	durationMinutes int64
	fundings        []string
	logLevel        string
	readTimeout     string

	signingKeyPath string
	publicKeyOut   string
	eventLogPath   string

	mqttBroker      string
	mqttPort        uint64
	mqttClientID    string
	mqttUsername    string
	mqttPassword    string
	mqttTopicPrefix string
)
