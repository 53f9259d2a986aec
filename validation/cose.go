package validation

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// coseSign1Tag is the CBOR tag for COSE_Sign1_Tagged
const coseSign1Tag = 18

// ExtractCOSEPayload extracts the payload from a tagged COSE_Sign1 envelope without
// checking its signature.
// COSE_Sign1 structure: 18([protected, unprotected, payload, signature])
func ExtractCOSEPayload(envelope []byte) ([]byte, error) {
	var tagged cbor.Tag
	if err := cbor.Unmarshal(envelope, &tagged); err != nil {
		return nil, fmt.Errorf("parse COSE envelope: %w", err)
	}
	if tagged.Number != coseSign1Tag {
		return nil, fmt.Errorf("invalid COSE_Sign1 tag: expected %d, got %d", coseSign1Tag, tagged.Number)
	}

	coseArray, ok := tagged.Content.([]any)
	if !ok || len(coseArray) != 4 {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements")
	}

	payload, ok := coseArray[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid payload in COSE structure")
	}

	return payload, nil
}
