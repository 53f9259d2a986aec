package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/englishauction/auctionapi"
	"github.com/cloudx-io/englishauction/chain"
	"github.com/cloudx-io/englishauction/core"
	"github.com/cloudx-io/englishauction/eventlog"
)

var (
	start    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ownerHex = "0x00000000000000000000000000000000000000aa"
	aliceHex = "0x000000000000000000000000000000000000a11c"
	bobHex   = "0x0000000000000000000000000000000000000b0b"
)

type testServer struct {
	server *AuctionServer
	clock  *chain.ManualClock
	host   *chain.Host
	signer *eventlog.Signer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	signer, err := eventlog.GenerateSigner()
	assert.NoError(t, err)

	clock := chain.NewManualClock(start)
	events := eventlog.NewLog(eventlog.WithLogger(logger))
	host := chain.NewHost(chain.WithClock(clock), chain.WithSink(events), chain.WithLogger(logger))
	for _, f := range []string{aliceHex + "=10", bobHex + "=10"} {
		addr, amount, err := parseFunding(f)
		assert.NoError(t, err)
		host.Fund(addr, amount)
	}
	auction, err := host.Deploy(common.HexToAddress(ownerHex), 60)
	assert.NoError(t, err)

	server := NewAuctionServer(host, auction, events, signer, 2, logrus.NewEntry(logger))
	return &testServer{server: server, clock: clock, host: host, signer: signer}
}

func (ts *testServer) roundTrip(t *testing.T, req any) auctionapi.Response {
	t.Helper()
	client, conn := net.Pipe()
	done := make(chan struct{})
	go func() {
		ts.server.handleConnection(conn)
		close(done)
	}()

	assert.NoError(t, json.NewEncoder(client).Encode(req))
	var resp auctionapi.Response
	assert.NoError(t, json.NewDecoder(client).Decode(&resp))
	_ = client.Close()
	<-done
	return resp
}

func TestServer_Ping(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.roundTrip(t, auctionapi.Request{Type: auctionapi.TypePing})
	check.True(t, resp.Success)
	check.Equal(t, "pong", resp.Type)
	check.Equal(t, start.Unix(), resp.Timestamp)
}

func TestServer_PlaceBidReturnsSignedEvents(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.roundTrip(t, auctionapi.Request{Type: auctionapi.TypePlaceBid, From: aliceHex, AmountEther: "1"})
	assert.True(t, resp.Success)
	check.NotEqual(t, "", resp.TxID)
	assert.Equal(t, 1, len(resp.Events))
	check.Equal(t, "NewBid", resp.Events[0].Kind)
	check.Equal(t, "1", resp.Events[0].AmountEther)

	assert.Equal(t, 1, len(resp.Envelopes))
	envelope, err := resp.Envelopes[0].Decode()
	assert.NoError(t, err)
	record, err := eventlog.Verify(envelope, ts.signer.PublicKey)
	assert.NoError(t, err)
	check.Equal(t, "NewBid", record.Kind)
	check.Equal(t, uint64(0), record.Seq)
	txID, err := record.TxUUID()
	assert.NoError(t, err)
	check.Equal(t, resp.TxID, txID.String())

	check.Equal(t, "9", core.FormatEther(ts.host.BalanceOf(common.HexToAddress(aliceHex))))
}

func TestServer_RejectedTransactions(t *testing.T) {
	ts := newTestServer(t)
	first := ts.roundTrip(t, auctionapi.Request{Type: auctionapi.TypePlaceBid, From: aliceHex, AmountEther: "1"})
	assert.True(t, first.Success)

	tests := []struct {
		name    string
		req     auctionapi.Request
		code    string
		kind    string
		hasTxID bool
	}{
		{
			name:    "bid below increment",
			req:     auctionapi.Request{Type: auctionapi.TypePlaceBid, From: bobHex, AmountEther: "1.01"},
			code:    "bid_too_low",
			kind:    "value",
			hasTxID: true,
		},
		{
			name:    "leader withdraws",
			req:     auctionapi.Request{Type: auctionapi.TypeWithdrawPartial, From: aliceHex, AmountEther: "0.5"},
			code:    "leader_locked",
			kind:    "state",
			hasTxID: true,
		},
		{
			name:    "end too early",
			req:     auctionapi.Request{Type: auctionapi.TypeEndAuction, From: ownerHex},
			code:    "not_yet_endable",
			kind:    "precondition",
			hasTxID: true,
		},
		{
			name:    "direct payment",
			req:     auctionapi.Request{Type: auctionapi.TypeSend, From: bobHex, AmountEther: "1"},
			code:    "direct_payment",
			kind:    "precondition",
			hasTxID: true,
		},
		{
			name: "bad caller",
			req:  auctionapi.Request{Type: auctionapi.TypeGetRefund, From: "0x1234"},
			code: "invalid_address",
			kind: "unknown",
		},
		{
			name: "missing amount",
			req:  auctionapi.Request{Type: auctionapi.TypePlaceBid, From: bobHex},
			code: "invalid_value",
			kind: "unknown",
		},
		{
			name: "bad recipient",
			req:  auctionapi.Request{Type: auctionapi.TypeEmergencyWithdraw, From: ownerHex, To: "nobody", AmountEther: "1"},
			code: "invalid_address",
			kind: "unknown",
		},
		{
			name:    "bid beyond balance",
			req:     auctionapi.Request{Type: auctionapi.TypePlaceBid, From: bobHex, AmountEther: "11"},
			code:    "insufficient_balance",
			kind:    "unknown",
			hasTxID: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.roundTrip(t, tt.req)
			check.False(t, resp.Success)
			check.Equal(t, tt.req.Type, resp.Type)
			check.Equal(t, tt.code, resp.Code)
			check.Equal(t, tt.kind, resp.ErrorKind)
			check.Equal(t, tt.hasTxID, resp.TxID != "")
			check.Equal(t, 0, len(resp.Events))
			check.Equal(t, 0, len(resp.Envelopes))
		})
	}

	// nothing above reached the log
	check.Equal(t, 1, ts.server.events.Len())
}

func TestServer_Reads(t *testing.T) {
	ts := newTestServer(t)
	assert.True(t, ts.roundTrip(t, auctionapi.Request{Type: auctionapi.TypePlaceBid, From: aliceHex, AmountEther: "1"}).Success)

	// a bid inside the last ten minutes pushes the deadline out
	ts.clock.Advance(55 * time.Minute)
	assert.True(t, ts.roundTrip(t, auctionapi.Request{Type: auctionapi.TypePlaceBid, From: bobHex, AmountEther: "2"}).Success)

	bids := ts.roundTrip(t, auctionapi.Request{Type: auctionapi.TypeGetBids})
	assert.True(t, bids.Success)
	assert.Equal(t, 2, len(bids.Bids))
	check.Equal(t, common.HexToAddress(aliceHex).Hex(), bids.Bids[0].Bidder)
	check.Equal(t, "1", bids.Bids[0].AmountEther)
	check.Equal(t, "2000000000000000000", bids.Bids[1].AmountWei)

	left := ts.roundTrip(t, auctionapi.Request{Type: auctionapi.TypeGetTimeLeft})
	assert.True(t, left.Success)
	assert.NotNil(t, left.TimeLeftSeconds)
	check.Equal(t, int64(600), *left.TimeLeftSeconds)

	state := ts.roundTrip(t, auctionapi.Request{Type: auctionapi.TypeGetState})
	assert.True(t, state.Success)
	assert.NotNil(t, state.State)
	check.Equal(t, common.HexToAddress(bobHex).Hex(), state.State.HighestBidder)
	check.Equal(t, "open", state.State.Phase)
	check.Equal(t, "3000000000000000000", state.State.BalanceWei)
	check.Equal(t, start.Add(65*time.Minute).Unix(), state.State.EndTime)
}

func TestServer_Settlement(t *testing.T) {
	ts := newTestServer(t)
	assert.True(t, ts.roundTrip(t, auctionapi.Request{Type: auctionapi.TypePlaceBid, From: aliceHex, AmountEther: "1"}).Success)
	assert.True(t, ts.roundTrip(t, auctionapi.Request{Type: auctionapi.TypePlaceBid, From: bobHex, AmountEther: "2"}).Success)

	ts.clock.Advance(time.Hour)
	end := ts.roundTrip(t, auctionapi.Request{Type: auctionapi.TypeEndAuction, From: ownerHex})
	assert.True(t, end.Success)
	assert.Equal(t, 1, len(end.Events))
	check.Equal(t, "AuctionEnded", end.Events[0].Kind)
	check.Equal(t, "2", end.Events[0].AmountEther)

	refund := ts.roundTrip(t, auctionapi.Request{Type: auctionapi.TypeGetRefund, From: aliceHex})
	assert.True(t, refund.Success)
	assert.Equal(t, 1, len(refund.Envelopes))
	envelope, err := refund.Envelopes[0].Decode()
	assert.NoError(t, err)
	record, err := eventlog.Verify(envelope, ts.signer.PublicKey)
	assert.NoError(t, err)
	check.Equal(t, "RefundIssued", record.Kind)
	check.Equal(t, uint64(3), record.Seq)

	check.Equal(t, "10", core.FormatEther(ts.host.BalanceOf(common.HexToAddress(aliceHex))))
	check.Equal(t, "0.04", core.FormatEther(ts.host.BalanceOf(common.HexToAddress(ownerHex))))
	check.Equal(t, "9.96", core.FormatEther(ts.host.BalanceOf(common.HexToAddress(bobHex))))
}

func TestServer_UnknownAndMalformed(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.roundTrip(t, map[string]string{"type": "key_request"})
	check.False(t, resp.Success)
	check.Equal(t, "key_request", resp.Type)
	check.Equal(t, "internal", resp.Code)

	client, conn := net.Pipe()
	done := make(chan struct{})
	go func() {
		ts.server.handleConnection(conn)
		close(done)
	}()
	_, err := client.Write([]byte("{not json}\n"))
	assert.NoError(t, err)
	var bad auctionapi.Response
	assert.NoError(t, json.NewDecoder(client).Decode(&bad))
	_ = client.Close()
	<-done
	check.False(t, bad.Success)
	check.Equal(t, "error", bad.Type)
}

func TestServer_ServeOverTCP(t *testing.T) {
	ts := newTestServer(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- ts.server.Serve(ctx, listener) }()

	conn, err := net.Dial("tcp", listener.Addr().String())
	assert.NoError(t, err)
	assert.NoError(t, json.NewEncoder(conn).Encode(auctionapi.Request{Type: auctionapi.TypePing}))
	var resp auctionapi.Response
	assert.NoError(t, json.NewDecoder(conn).Decode(&resp))
	_ = conn.Close()
	check.Equal(t, "pong", resp.Type)

	cancel()
	select {
	case err := <-served:
		check.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestParseFunding(t *testing.T) {
	tests := []struct {
		input   string
		ether   string
		wantErr bool
	}{
		{aliceHex + "=10", "10", false},
		{" " + aliceHex + " = 0.25", "0.25", false},
		{aliceHex, "", true},
		{"0x1234=1", "", true},
		{aliceHex + "=lots", "", true},
		{aliceHex + "=-1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			addr, amount, err := parseFunding(tt.input)
			if tt.wantErr {
				check.Error(t, err)
				return
			}
			assert.NoError(t, err)
			check.Equal(t, common.HexToAddress(aliceHex), addr)
			check.Equal(t, tt.ether, core.FormatEther(amount))
		})
	}
}

func TestGetRequiredEnvInt(t *testing.T) {
	t.Setenv(maxWorkersEnv, "")
	_, err := getRequiredEnvInt(maxWorkersEnv)
	check.Error(t, err)

	t.Setenv(maxWorkersEnv, "four")
	_, err = getRequiredEnvInt(maxWorkersEnv)
	check.Error(t, err)

	t.Setenv(maxWorkersEnv, "4")
	n, err := getRequiredEnvInt(maxWorkersEnv)
	assert.NoError(t, err)
	check.Equal(t, 4, n)
}
