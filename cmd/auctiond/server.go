package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/englishauction/auctionapi"
	"github.com/cloudx-io/englishauction/chain"
	"github.com/cloudx-io/englishauction/core"
	"github.com/cloudx-io/englishauction/eventlog"
)

const defaultReadTimeout = 30 * time.Second

// AuctionServer answers auctionapi requests against one deployed auction. Each connection
// carries a single JSON request and gets a single JSON response.
type AuctionServer struct {
	host        *chain.Host
	auction     *chain.Auction
	events      *eventlog.Log
	signer      *eventlog.Signer
	maxWorkers  int
	readTimeout time.Duration
	log         *logrus.Entry
}

func NewAuctionServer(host *chain.Host, auction *chain.Auction, events *eventlog.Log, signer *eventlog.Signer, maxWorkers int, log *logrus.Entry) *AuctionServer {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &AuctionServer{
		host:        host,
		auction:     auction,
		events:      events,
		signer:      signer,
		maxWorkers:  maxWorkers,
		readTimeout: defaultReadTimeout,
		log:         log,
	}
}

// Serve accepts connections until ctx is cancelled or the listener fails.
func (s *AuctionServer) Serve(ctx context.Context, listener net.Listener) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := listener.Close(); err != nil {
				s.log.WithError(err).Error("failed to close listener")
			}
		case <-done:
		}
	}()

	semaphore := make(chan struct{}, s.maxWorkers)
	s.log.WithFields(logrus.Fields{
		"addr":       listener.Addr().String(),
		"maxWorkers": s.maxWorkers,
	}).Info("auction server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.WithError(err).Error("failed to accept connection")
			continue
		}

		// immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(c)
			}(conn)
		default:
			s.log.Info("no workers available, rejecting connection")
			if err := conn.Close(); err != nil {
				s.log.WithError(err).Error("failed to close rejected connection")
			}
		}
	}
}

func (s *AuctionServer) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("panic recovered in handleConnection")
		}
		if err := conn.Close(); err != nil {
			s.log.WithError(err).Debug("failed to close connection")
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))

	var req auctionapi.Request
	var resp auctionapi.Response
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.log.WithError(err).Warn("failed to decode request")
		resp = auctionapi.ErrorResponse("error", fmt.Errorf("failed to decode request: %w", err), s.host.Now())
	} else {
		resp = s.handle(req)
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.WithError(err).WithField("type", req.Type).Error("failed to encode response")
	}
}

func (s *AuctionServer) handle(req auctionapi.Request) auctionapi.Response {
	log := s.log.WithFields(logrus.Fields{"type": req.Type, "from": req.From})
	log.Debug("request received")

	switch req.Type {
	case auctionapi.TypePing:
		return auctionapi.Response{
			Type:      "pong",
			Success:   true,
			Message:   "auction server is healthy",
			Timestamp: s.host.Now().Unix(),
		}

	case auctionapi.TypeGetBids:
		bidders, amounts := s.auction.GetBids()
		bids := make([]auctionapi.Bid, len(bidders))
		for i := range bidders {
			bids[i] = auctionapi.Bid{
				Bidder:      bidders[i].Hex(),
				AmountWei:   amounts[i].ToBig().String(),
				AmountEther: core.FormatEther(amounts[i]),
			}
		}
		return auctionapi.Response{Type: req.Type, Success: true, Bids: bids, Timestamp: s.host.Now().Unix()}

	case auctionapi.TypeGetTimeLeft:
		left := int64(s.auction.GetTimeLeft() / time.Second)
		return auctionapi.Response{Type: req.Type, Success: true, TimeLeftSeconds: &left, Timestamp: s.host.Now().Unix()}

	case auctionapi.TypeGetState:
		return auctionapi.Response{
			Type:      req.Type,
			Success:   true,
			State:     auctionapi.NewAuctionState(s.auction.State()),
			Timestamp: s.host.Now().Unix(),
		}

	case auctionapi.TypePlaceBid, auctionapi.TypeEndAuction, auctionapi.TypeGetRefund,
		auctionapi.TypeWithdrawPartial, auctionapi.TypeEmergencyWithdraw, auctionapi.TypeSend:
		receipt, err := s.execute(req)
		if err != nil {
			log.WithError(err).Info("transaction rejected")
			resp := auctionapi.ErrorResponse(req.Type, err, s.host.Now())
			if receipt.TxID != uuid.Nil {
				resp.TxID = receipt.TxID.String()
			}
			return resp
		}
		log.WithFields(logrus.Fields{"tx": receipt.TxID, "events": len(receipt.Events)}).Info("transaction committed")
		return s.receiptResponse(req.Type, receipt)

	default:
		return auctionapi.ErrorResponse(req.Type, fmt.Errorf("unknown request type: %s", req.Type), s.host.Now())
	}
}

func (s *AuctionServer) execute(req auctionapi.Request) (chain.Receipt, error) {
	from, err := req.Caller()
	if err != nil {
		return chain.Receipt{}, err
	}

	switch req.Type {
	case auctionapi.TypeEndAuction:
		return s.auction.EndAuction(from)
	case auctionapi.TypeGetRefund:
		return s.auction.GetRefund(from)
	}

	value, err := req.Value()
	if err != nil {
		return chain.Receipt{}, err
	}
	switch req.Type {
	case auctionapi.TypePlaceBid:
		return s.auction.PlaceBid(from, value)
	case auctionapi.TypeWithdrawPartial:
		return s.auction.WithdrawPartial(from, value)
	case auctionapi.TypeSend:
		return s.auction.Send(from, value)
	}

	to, err := req.Recipient()
	if err != nil {
		return chain.Receipt{}, err
	}
	return s.auction.EmergencyWithdraw(from, to, value)
}

func (s *AuctionServer) receiptResponse(reqType string, receipt chain.Receipt) auctionapi.Response {
	resp := auctionapi.Response{
		Type:      reqType,
		Success:   true,
		TxID:      receipt.TxID.String(),
		Timestamp: receipt.At.Unix(),
	}
	for _, entry := range receipt.Events {
		resp.Events = append(resp.Events, auctionapi.NewEvent(entry.Event))
	}

	if s.signer == nil || s.events == nil {
		return resp
	}
	for _, r := range s.events.ForTx(receipt.TxID) {
		envelope, err := s.signer.Sign(r)
		if err != nil {
			s.log.WithError(err).WithField("seq", r.Seq).Error("failed to sign record")
			continue
		}
		resp.Envelopes = append(resp.Envelopes, auctionapi.EncodeEnvelope(envelope))
	}
	return resp
}

func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}
	return intValue, nil
}
