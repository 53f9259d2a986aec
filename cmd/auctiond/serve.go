package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mdlayher/vsock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudx-io/englishauction/chain"
	"github.com/cloudx-io/englishauction/core"
	"github.com/cloudx-io/englishauction/eventlog"
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&listenAddr, "listen", listenAddrDefault, "TCP listen address")
	serveCmd.Flags().Uint32Var(&vsockPort, "vsock-port", vsockPortDefault, "vsock port to listen on instead of TCP (0 disables)")
	serveCmd.Flags().StringVar(&owner, "owner", "", "address of the auction owner")
	serveCmd.Flags().Int64Var(&durationMinutes, "duration-minutes", durationMinutesDefault, "initial bidding window in minutes")
	serveCmd.Flags().StringSliceVar(&fundings, "fund", nil, "genesis balance as address=ether, repeatable")
	serveCmd.Flags().StringVar(&logLevel, "log-level", logLevelDefault, "log level")
	serveCmd.Flags().StringVar(&readTimeout, "read-timeout", readTimeoutDefault, "per-connection read timeout")

	serveCmd.Flags().StringVar(&signingKeyPath, "signing-key", "", "PEM file with the event log signing key (ephemeral if empty)")
	serveCmd.Flags().StringVar(&publicKeyOut, "public-key-out", "", "write the event log public key PEM to this file")
	serveCmd.Flags().StringVar(&eventLogPath, "event-log", "", "write signed event records to this file (must be missing or empty)")

	serveCmd.Flags().StringVar(&mqttBroker, "mqtt-broker", "", "MQTT broker host (publishing disabled if empty)")
	serveCmd.Flags().Uint64Var(&mqttPort, "mqtt-port", mqttPortDefault, "MQTT broker port")
	serveCmd.Flags().StringVar(&mqttClientID, "mqtt-client-id", mqttClientIDDefault, "MQTT client id")
	serveCmd.Flags().StringVar(&mqttUsername, "mqtt-username", "", "MQTT username")
	serveCmd.Flags().StringVar(&mqttPassword, "mqtt-password", "", "MQTT password")
	serveCmd.Flags().StringVar(&mqttTopicPrefix, "mqtt-topic-prefix", mqttTopicPrefixDefault, "MQTT topic prefix for event records")

	_ = serveCmd.MarkFlagRequired("owner")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Deploy the auction and serve requests",
	Run: func(cmd *cobra.Command, args []string) {
		logger := logrus.New()
		log := logrus.NewEntry(logger).WithFields(logrus.Fields{
			"package": "Auctiond",
		})

		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			log.WithError(err).Fatal("invalid log level")
		}
		logger.SetLevel(level)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := serve(ctx, logger, log); err != nil {
			log.WithError(err).Fatal("auctiond stopped")
		}
		log.Info("auctiond stopped")
	},
}

func serve(ctx context.Context, logger *logrus.Logger, log *logrus.Entry) error {
	if !common.IsHexAddress(owner) {
		return fmt.Errorf("invalid owner address %q", owner)
	}
	timeout, err := time.ParseDuration(readTimeout)
	if err != nil {
		return fmt.Errorf("invalid read timeout: %w", err)
	}
	maxWorkers, err := getRequiredEnvInt(maxWorkersEnv)
	if err != nil {
		return fmt.Errorf("failed to get max workers config: %w", err)
	}

	signer, err := loadSigner(signingKeyPath, log)
	if err != nil {
		return err
	}
	pubPEM, err := signer.PublicKeyPEM()
	if err != nil {
		return err
	}
	if publicKeyOut != "" {
		if err := os.WriteFile(publicKeyOut, []byte(pubPEM), 0o644); err != nil {
			return fmt.Errorf("failed to write public key: %w", err)
		}
	}

	logOpts := []eventlog.LogOption{eventlog.WithLogger(logger)}
	if eventLogPath != "" {
		f, err := openEventLog(eventLogPath)
		if err != nil {
			return err
		}
		defer f.Close()
		logOpts = append(logOpts, eventlog.WithRecordSink(eventlog.NewWriterSink(f, signer)))
	}
	if mqttBroker != "" {
		client, err := eventlog.DialMQTT(eventlog.MQTTOptions{
			Broker:   mqttBroker,
			Port:     mqttPort,
			ClientID: mqttClientID,
			Username: mqttUsername,
			Password: mqttPassword,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to mqtt: %w", err)
		}
		defer client.Disconnect(250)
		logOpts = append(logOpts, eventlog.WithRecordSink(eventlog.NewMQTTSink(client, mqttTopicPrefix, eventlog.DefaultMQTTTimeout)))
	}
	events := eventlog.NewLog(logOpts...)

	host := chain.NewHost(chain.WithLogger(logger), chain.WithSink(events))
	for _, f := range fundings {
		addr, amount, err := parseFunding(f)
		if err != nil {
			return err
		}
		host.Fund(addr, amount)
	}

	auction, err := host.Deploy(common.HexToAddress(owner), durationMinutes)
	if err != nil {
		return fmt.Errorf("failed to deploy auction: %w", err)
	}
	log.WithFields(logrus.Fields{
		"contract": auction.Address().Hex(),
		"endTime":  auction.State().EndTime.UTC().Format(time.RFC3339),
	}).Info("auction open")
	log.Infof("event log public key:\n%s", pubPEM)

	listener, err := listen()
	if err != nil {
		return err
	}

	server := NewAuctionServer(host, auction, events, signer, maxWorkers, log)
	server.readTimeout = timeout
	return server.Serve(ctx, listener)
}

var errEventLogNotEmpty = errors.New("event log already has records")

// openEventLog creates the signed log file for a fresh run. Each run starts a new hash chain
// at sequence 0, so an existing non-empty log is refused rather than appended to.
func openEventLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat event log: %w", err)
	}
	if info.Size() > 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s (%d bytes), move it aside or pick another --event-log", errEventLogNotEmpty, path, info.Size())
	}
	return f, nil
}

func listen() (net.Listener, error) {
	if vsockPort > 0 {
		l, err := vsock.Listen(vsockPort, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		return l, nil
	}
	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}
	return l, nil
}

func loadSigner(path string, log *logrus.Entry) (*eventlog.Signer, error) {
	if path == "" {
		log.Warn("no signing key configured, generating an ephemeral one")
		return eventlog.GenerateSigner()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := eventlog.ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, err
	}
	return eventlog.NewSigner(key)
}

// parseFunding reads an "address=ether" genesis balance.
func parseFunding(s string) (common.Address, *uint256.Int, error) {
	addr, amount, ok := strings.Cut(s, "=")
	if !ok {
		return common.Address{}, nil, fmt.Errorf("invalid funding %q: want address=ether", s)
	}
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return common.Address{}, nil, fmt.Errorf("invalid funding %q: bad address", s)
	}
	value, err := core.ParseEther(strings.TrimSpace(amount))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("invalid funding %q: %w", s, err)
	}
	return common.HexToAddress(addr), value, nil
}
