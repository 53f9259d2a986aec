package auctionapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/englishauction/chain"
	"github.com/cloudx-io/englishauction/core"
)

var alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")

func TestRequest_Decode(t *testing.T) {
	raw := `{"type":"place_bid","from":"0x000000000000000000000000000000000000a11c","amount":"1050000000000000000"}`

	var req Request
	assert.NoError(t, json.Unmarshal([]byte(raw), &req))
	check.Equal(t, TypePlaceBid, req.Type)

	caller, err := req.Caller()
	assert.NoError(t, err)
	check.Equal(t, alice, caller)

	value, err := req.Value()
	assert.NoError(t, err)
	check.Equal(t, "1.05", core.FormatEther(value))
}

func TestRequest_Addresses(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"0x000000000000000000000000000000000000a11c", false},
		{"000000000000000000000000000000000000a11c", false},
		{"0xa11c", true},
		{"", true},
		{"0xzz0000000000000000000000000000000000a11c", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Request{From: tt.input}.Caller()
			_, toErr := Request{To: tt.input}.Recipient()
			if tt.wantErr {
				check.True(t, errors.Is(err, ErrInvalidAddress))
				check.True(t, errors.Is(toErr, ErrInvalidAddress))
				return
			}
			check.NoError(t, err)
			check.NoError(t, toErr)
		})
	}
}

func TestRequest_Value(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		expected string
		wantErr  bool
	}{
		{"wei", Request{Amount: "1000"}, "1000", false},
		{"ether", Request{AmountEther: "0.5"}, "500000000000000000", false},
		{"wei wins over ether", Request{Amount: "7", AmountEther: "1"}, "7", false},
		{"missing", Request{}, "", true},
		{"fractional wei", Request{Amount: "1.5"}, "", true},
		{"negative ether", Request{AmountEther: "-1"}, "", true},
		{"too precise ether", Request{AmountEther: "0.0000000000000000001"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tt.req.Value()
			if tt.wantErr {
				check.True(t, errors.Is(err, ErrInvalidValue))
				return
			}
			assert.NoError(t, err)
			check.Equal(t, tt.expected, v.ToBig().String())
		})
	}
}

func TestNewEvent(t *testing.T) {
	ev := core.Event{Kind: core.EventRefundIssued, Subject: alice}
	ev.Amount.SetUint64(1_500_000_000_000_000_000)

	got := NewEvent(ev)
	check.Equal(t, "RefundIssued", got.Kind)
	check.Equal(t, alice.Hex(), got.Subject)
	check.Equal(t, "1500000000000000000", got.AmountWei)
	check.Equal(t, "1.5", got.AmountEther)
}

func TestNewAuctionState(t *testing.T) {
	end := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	st := NewAuctionState(chain.State{
		Owner:         alice,
		HighestBidder: alice,
		HighestBid:    uint256.NewInt(42),
		EndTime:       end,
		Phase:         core.PhaseClosable,
		Balance:       uint256.NewInt(100),
	})
	check.Equal(t, "42", st.HighestBidWei)
	check.Equal(t, "100", st.BalanceWei)
	check.Equal(t, end.Unix(), st.EndTime)
	check.Equal(t, "closable", st.Phase)
}

func TestErrorResponse(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		err  error
		code string
		kind string
	}{
		{"engine sentinel", core.ErrLeaderLocked, "leader_locked", "state"},
		{"wrapped engine error", fmt.Errorf("%w: detail", core.ErrBidTooLow), "bid_too_low", "value"},
		{"bad address", fmt.Errorf("%w: from", ErrInvalidAddress), "invalid_address", "unknown"},
		{"bad value", ErrInvalidValue, "invalid_value", "unknown"},
		{"host balance", chain.ErrInsufficientBalance, "insufficient_balance", "unknown"},
		{"anything else", errors.New("boom"), "internal", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ErrorResponse(TypePlaceBid, tt.err, now)
			check.False(t, resp.Success)
			check.Equal(t, TypePlaceBid, resp.Type)
			check.Equal(t, tt.code, resp.Code)
			check.Equal(t, tt.kind, resp.ErrorKind)
			check.Equal(t, tt.err.Error(), resp.Message)
			check.Equal(t, now.Unix(), resp.Timestamp)
		})
	}
}

func TestEnvelopeBase64(t *testing.T) {
	envelope := []byte{0xd2, 0x84, 0x01, 0x02}
	encoded := EncodeEnvelope(envelope)
	check.Equal(t, EnvelopeBase64("0oQBAg=="), encoded)

	decoded, err := encoded.Decode()
	assert.NoError(t, err)
	check.Equal(t, envelope, decoded)

	_, err = EnvelopeBase64("not base64!").Decode()
	check.Error(t, err)
}

func TestResponse_OmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Response{Type: "pong", Success: true, Timestamp: 1})
	assert.NoError(t, err)
	check.Equal(t, `{"type":"pong","success":true,"timestamp":1}`, string(data))
}
