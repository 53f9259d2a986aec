package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/englishauction/core"
)

const DefaultMQTTTimeout = 2 * time.Second

var ErrPublishTimeout = errors.New("timeout sending to broker")

// Message is the JSON form of a record published to subscribers.
type Message struct {
	Seq         uint64        `json:"seq"`
	TxID        string        `json:"tx_id"`
	Timestamp   int64         `json:"timestamp"`
	Contract    string        `json:"contract"`
	Kind        string        `json:"kind"`
	Subject     string        `json:"subject"`
	AmountWei   string        `json:"amount_wei"`
	AmountEther string        `json:"amount_ether"`
	PrevHash    hexutil.Bytes `json:"prev_hash,omitempty"`
}

func NewMessage(r Record) Message {
	txID := ""
	if id, err := r.TxUUID(); err == nil {
		txID = id.String()
	}
	value := r.Value()
	return Message{
		Seq:         r.Seq,
		TxID:        txID,
		Timestamp:   r.Timestamp,
		Contract:    r.ContractAddress().Hex(),
		Kind:        r.Kind,
		Subject:     r.SubjectAddress().Hex(),
		AmountWei:   value.ToBig().String(),
		AmountEther: core.FormatEther(value),
		PrevHash:    r.PrevHash,
	}
}

// publisher is the part of mqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes each record as JSON to "<prefix>/<Kind>".
type MQTTSink struct {
	client  publisher
	prefix  string
	timeout time.Duration
	log     *logrus.Entry
}

func NewMQTTSink(client publisher, prefix string, timeout time.Duration) *MQTTSink {
	if timeout <= 0 {
		timeout = DefaultMQTTTimeout
	}
	return &MQTTSink{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		log: logrus.NewEntry(logrus.New()).WithFields(logrus.Fields{
			"package": "EventLog",
			"sink":    "mqtt",
		}),
	}
}

func (s *MQTTSink) Topic(kind string) string {
	return fmt.Sprintf("%s/%s", s.prefix, kind)
}

func (s *MQTTSink) Write(r Record) error {
	payload, err := json.Marshal(NewMessage(r))
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	token := s.client.Publish(s.Topic(r.Kind), 1, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return ErrPublishTimeout
	}
	if token.Error() != nil {
		return fmt.Errorf("publish record %d: %w", r.Seq, token.Error())
	}
	s.log.WithFields(logrus.Fields{"seq": r.Seq, "topic": s.Topic(r.Kind)}).Debug("record published")
	return nil
}

type MQTTOptions struct {
	Broker   string
	Port     uint64
	ClientID string
	Username string
	Password string
}

func brokerURL(broker string, port uint64) string {
	return fmt.Sprintf("tcp://%s:%d", broker, port)
}

// DialMQTT connects to the broker and returns a ready client.
func DialMQTT(opts MQTTOptions, log *logrus.Entry) (mqtt.Client, error) {
	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(brokerURL(opts.Broker, opts.Port))
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetUsername(opts.Username)
	clientOpts.SetPassword(opts.Password)
	clientOpts.OnConnect = func(mqtt.Client) {
		log.Info("MQTT client connected")
	}
	clientOpts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	}

	client := mqtt.NewClient(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", brokerURL(opts.Broker, opts.Port), token.Error())
	}
	return client, nil
}
