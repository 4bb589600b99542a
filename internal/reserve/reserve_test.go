package reserve

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func makePoolData(baseMint, quoteMint, baseReserve, quoteReserve solana.PublicKey) []byte {
	buf := make([]byte, 128)
	copy(buf[0:32], baseMint[:])
	copy(buf[32:64], quoteMint[:])
	copy(buf[64:96], baseReserve[:])
	copy(buf[96:128], quoteReserve[:])
	return buf
}

func TestDecodePoolDescriptor(t *testing.T) {
	baseMint := solana.NewWallet().PublicKey()
	quoteMint := solana.NewWallet().PublicKey()
	baseReserve := solana.NewWallet().PublicKey()
	quoteReserve := solana.NewWallet().PublicKey()

	data := makePoolData(baseMint, quoteMint, baseReserve, quoteReserve)

	desc, err := DecodePoolDescriptor(data, 0, 32, 64, 96)
	if err != nil {
		t.Fatalf("DecodePoolDescriptor() error = %v", err)
	}

	if !desc.BaseMint.Equals(baseMint) {
		t.Error("BaseMint mismatch")
	}
	if !desc.QuoteMint.Equals(quoteMint) {
		t.Error("QuoteMint mismatch")
	}
	if !desc.BaseReserveAccount.Equals(baseReserve) {
		t.Error("BaseReserveAccount mismatch")
	}
	if !desc.QuoteReserveAccount.Equals(quoteReserve) {
		t.Error("QuoteReserveAccount mismatch")
	}
}

func TestDecodePoolDescriptorTooShort(t *testing.T) {
	if _, err := DecodePoolDescriptor(make([]byte, 10), 0, 32, 64, 96); err == nil {
		t.Error("expected error for truncated pool data")
	}
}

func TestDecodeTokenAccountAmount(t *testing.T) {
	data := make([]byte, 72)
	binary.LittleEndian.PutUint64(data[64:72], 123456789)

	amount, err := decodeTokenAccountAmount(data)
	if err != nil {
		t.Fatalf("decodeTokenAccountAmount() error = %v", err)
	}
	if amount != 123456789 {
		t.Errorf("amount = %d, want 123456789", amount)
	}
}

func TestDecodeTokenAccountAmountTooShort(t *testing.T) {
	if _, err := decodeTokenAccountAmount(make([]byte, 10)); err == nil {
		t.Error("expected error for truncated token account data")
	}
}

