package escrow

import (
	"encoding/binary"
	"io"
	"math/big"

	"golang.org/x/crypto/sha3"
)

const fingerprintPrefixV1 = "escrow-state"

// Fingerprint is the change-detection digest over the snapshot fields that
// affect UI state. Fields outside that set never perturb it.
type Fingerprint [32]byte

// IsZero reports whether no fingerprint has been computed yet.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// FingerprintOf computes the keccak256 digest of the UI-relevant subset:
//
//	"escrow-state" || flags || totalAmount || balance ||
//	releasedCountBE32 || settlementAmount || settlementApproved ||
//	cancelApprovedPayer || cancelApprovedPayee
//
// Amounts are length-prefixed big-endian bytes so adjacent fields cannot
// alias across encodings.
func FingerprintOf(s ContractSnapshot) Fingerprint {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(fingerprintPrefixV1))
	_, _ = h.Write([]byte{
		b2u(s.PlatformFeePaid),
		b2u(s.ConfirmedPayer),
		b2u(s.ConfirmedPayee),
		b2u(s.Deposited),
	})
	writeAmount(h, s.TotalAmount)
	writeAmount(h, s.Balance)

	var released [4]byte
	binary.BigEndian.PutUint32(released[:], uint32(s.ReleasedCount()))
	_, _ = h.Write(released[:])

	writeAmount(h, s.SettlementAmount)
	_, _ = h.Write([]byte{
		b2u(s.SettlementApproved),
		b2u(s.CancelApprovedPayer),
		b2u(s.CancelApprovedPayee),
	})

	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

func writeAmount(h io.Writer, v *big.Int) {
	var raw []byte
	if v != nil {
		raw = v.Bytes()
	}
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(raw)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(raw)
}

func b2u(v bool) byte {
	if v {
		return 1
	}
	return 0
}
