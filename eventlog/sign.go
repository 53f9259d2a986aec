package eventlog

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// Signer wraps records in COSE_Sign1 envelopes signed with ES256.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
	signer     cose.Signer
}

func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return &Signer{privateKey: key, PublicKey: &key.PublicKey, signer: signer}, nil
}

// GenerateSigner creates a signer with a fresh P-256 key.
func GenerateSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return NewSigner(key)
}

// Sign returns the tagged COSE_Sign1 envelope for r.
func (s *Signer) Sign(r Record) ([]byte, error) {
	payload, err := r.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return nil, fmt.Errorf("sign record %d: %w", r.Seq, err)
	}
	return msg.MarshalCBOR()
}

// PublicKeyPEM returns the public key in PEM format
func (s *Signer) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(s.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes})), nil
}

// PrivateKeyPEM returns the private key as a PKCS#8 PEM block.
func (s *Signer) PrivateKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKCS8PrivateKey(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: derBytes})), nil
}

func ParsePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not ECDSA", key)
	}
	return ecKey, nil
}

func ParsePublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not ECDSA", key)
	}
	return ecKey, nil
}

// Verify checks an envelope's ES256 signature and returns the record it carries.
func Verify(envelope []byte, pub *ecdsa.PublicKey) (Record, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(envelope); err != nil {
		return Record{}, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return Record{}, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return Record{}, fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return UnmarshalRecord(msg.Payload)
}

// ReadSigned splits a stream of back-to-back envelopes, as written by WriterSink.
func ReadSigned(r io.Reader) ([][]byte, error) {
	dec := cbor.NewDecoder(r)
	var envelopes [][]byte
	for {
		var raw cbor.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return envelopes, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read envelope %d: %w", len(envelopes), err)
		}
		envelopes = append(envelopes, []byte(raw))
	}
}
