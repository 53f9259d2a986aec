package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/englishauction/core"
	"github.com/cloudx-io/englishauction/eventlog"
	"github.com/cloudx-io/englishauction/validation"
)

func main() {
	var (
		logPath         = flag.String("log", "", "Signed event log written by auctiond --event-log")
		publicKeyPath   = flag.String("public-key", "", "PEM public key the daemon signed with")
		openedAt        = flag.String("opened-at", "", "Time the auction opened (RFC3339 or unix seconds)")
		durationMinutes = flag.Int64("duration-minutes", 0, "Initial bidding window in minutes")
		contract        = flag.String("contract", "", "Contract address (default: taken from the first record)")
		outputFormat    = flag.String("format", "text", "Output format: text or json")
		help            = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *logPath == "" || *publicKeyPath == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --log and --public-key are required\n")
		os.Exit(1)
	}

	input, err := buildInput(*logPath, *publicKeyPath, *openedAt, *durationMinutes, *contract)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(2)
	}

	result, err := validation.ValidateSignedEventLog(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result)
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Auction Event Log Validator")
	fmt.Println()
	fmt.Println("Verifies the signatures on an auction's event log and replays it against the auction rules.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  eventlog-validator --log <file> --public-key <pem> [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --log <file>                      Concatenated COSE_Sign1 records")
	fmt.Println("  --public-key <pem>                Signing public key (auctiond --public-key-out)")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --opened-at <time>                Enables deadline checks together with --duration-minutes")
	fmt.Println("  --duration-minutes <n>            Initial bidding window")
	fmt.Println("  --contract <address>              Expected contract address")
	fmt.Println("  --format <text|json>              Output format (default: text)")
	fmt.Println("  --help                            Show this help message")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func buildInput(logPath, publicKeyPath, openedAt string, durationMinutes int64, contract string) (*validation.EventLogValidationInput, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	envelopes, err := eventlog.ReadSigned(f)
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}

	keyPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, err
	}
	pub, err := eventlog.ParsePublicKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}

	input := &validation.EventLogValidationInput{
		Envelopes:       envelopes,
		PublicKey:       pub,
		DurationMinutes: durationMinutes,
	}
	if openedAt != "" {
		input.OpenedAt, err = parseTime(openedAt)
		if err != nil {
			return nil, err
		}
	}
	if contract != "" {
		if !common.IsHexAddress(contract) {
			return nil, fmt.Errorf("invalid contract address %q", contract)
		}
		input.Contract = common.HexToAddress(contract)
	}
	return input, nil
}

func parseTime(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --opened-at %q: want RFC3339 or unix seconds", s)
	}
	return t, nil
}

func outputText(result *validation.EventLogValidationResult) {
	fmt.Println("Auction Event Log Validator")
	fmt.Println("===========================")
	fmt.Println()

	fmt.Printf("Contract: %s\n", result.Contract.Hex())
	fmt.Printf("Records:  %d\n", result.Records)

	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Printf("  Hash Chain Valid:        %v\n", result.ChainValid)
	fmt.Printf("  Single Contract:         %v\n", result.SingleContract)
	fmt.Printf("  Events Known:            %v\n", result.EventsKnown)
	fmt.Printf("  Increments Valid:        %v\n", result.IncrementsValid)
	fmt.Printf("  Deadlines Valid:         %v\n", result.DeadlinesValid)
	fmt.Printf("  Settlement Valid:        %v\n", result.SettlementValid)
	fmt.Printf("  Refunds Valid:           %v\n", result.RefundsValid)
	fmt.Printf("  Withdrawals Valid:       %v\n", result.WithdrawalsValid)

	if result.Ended {
		fmt.Println()
		fmt.Println("Settlement:")
		fmt.Printf("  Winner:                  %s\n", result.Winner.Hex())
		fmt.Printf("  Winning Bid:             %s\n", core.FormatEther(result.WinningBid))
		fmt.Printf("  Fee:                     %s\n", core.FormatEther(result.Fee))
		fmt.Printf("  Payout:                  %s\n", core.FormatEther(result.Payout))
	}

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}

	fmt.Println()
	fmt.Println("===========================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
		fmt.Println("Exit Code: 0")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
		fmt.Println("Exit Code: 1")
	}
}

func outputJSON(result *validation.EventLogValidationResult) {
	output := map[string]any{
		"valid":             result.IsValid(),
		"contract":          result.Contract.Hex(),
		"records":           result.Records,
		"signature_valid":   result.SignatureValid,
		"chain_valid":       result.ChainValid,
		"single_contract":   result.SingleContract,
		"events_known":      result.EventsKnown,
		"increments_valid":  result.IncrementsValid,
		"deadlines_valid":   result.DeadlinesValid,
		"settlement_valid":  result.SettlementValid,
		"refunds_valid":     result.RefundsValid,
		"withdrawals_valid": result.WithdrawalsValid,
		"ended":             result.Ended,
		"details":           result.ValidationDetails,
	}
	if result.Ended {
		output["winner"] = result.Winner.Hex()
		output["winning_bid_wei"] = result.WinningBid.ToBig().String()
		output["fee_wei"] = result.Fee.ToBig().String()
		output["payout_wei"] = result.Payout.ToBig().String()
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
