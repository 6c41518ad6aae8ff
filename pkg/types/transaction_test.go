package types

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func testRaw() RawTransaction {
	return RawTransaction{
		SequenceNumber: 3,
		Payload:        Payload{Kind: PayloadScript, Code: []byte{0x01, 0x02}},
		MaxGasAmount:   1000,
		GasUnitPrice:   7,
		ExpirationTime: 1_900_000_000,
	}
}

func TestSignTransaction_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	raw := testRaw()
	raw.Sender = crypto.PubkeyToAddress(key.PublicKey)

	tx, err := SignTransaction(raw, 1, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	enc, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := DecodeSignedTransaction(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Hash() != tx.Hash() {
		t.Errorf("hash changed across encoding: %s != %s", dec.Hash().Hex(), tx.Hash().Hex())
	}
	if dec.Key() != (TxKey{Sender: raw.Sender, SequenceNumber: 3}) {
		t.Errorf("unexpected key %s", dec.Key())
	}

	hash, _ := raw.SigningHash(1)
	pub, err := crypto.Ecrecover(hash.Bytes(), dec.Signature)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if string(pub) != string(dec.PublicKey) {
		t.Error("signature does not recover the signing key")
	}
}

func TestSigningHash_BindsChainID(t *testing.T) {
	raw := testRaw()
	a, _ := raw.SigningHash(1)
	b, _ := raw.SigningHash(2)
	if a == b {
		t.Error("signing hash must differ across chains")
	}
}

func TestDecodeSignedTransaction_Malformed(t *testing.T) {
	for _, data := range [][]byte{nil, {0xff}, {0xc1, 0x80}} {
		if _, err := DecodeSignedTransaction(data); !errors.Is(err, ErrMalformedTransaction) {
			t.Errorf("input %x: expected ErrMalformedTransaction, got %v", data, err)
		}
	}
}

func TestMaxCost(t *testing.T) {
	raw := testRaw()
	raw.MaxGasAmount = 1 << 40
	raw.GasUnitPrice = 1 << 40
	want := new(big.Int).Lsh(big.NewInt(1), 80)
	if raw.MaxCost().Cmp(want) != 0 {
		t.Errorf("expected %s, got %s", want, raw.MaxCost())
	}
}

func TestValidationOutcome_Text(t *testing.T) {
	for o := Valid; o <= Timeout; o++ {
		text, err := o.MarshalText()
		if err != nil {
			t.Fatalf("marshal %d: %v", o, err)
		}
		var back ValidationOutcome
		if err := back.UnmarshalText(text); err != nil || back != o {
			t.Errorf("%s did not round trip: %v", text, err)
		}
	}
	if _, err := ValidationOutcome(200).MarshalText(); err == nil {
		t.Error("expected error for unknown outcome")
	}
	if !MempoolUnavailable.Internal() || !Timeout.Internal() || MempoolFull.Internal() {
		t.Error("only MempoolUnavailable and Timeout are internal")
	}
}
