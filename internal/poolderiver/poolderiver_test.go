package poolderiver

import (
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/curvewatch/internal/chainparams"
)

func TestDeriveDeterministic(t *testing.T) {
	params := chainparams.MustGet(chainparams.Mainnet)
	mint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	a, err := Derive(params, mint)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	b, err := Derive(params, mint)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	if !a.Equals(b) {
		t.Errorf("Derive() not deterministic: %s != %s", a, b)
	}
}

func TestDeriveDistinctMints(t *testing.T) {
	params := chainparams.MustGet(chainparams.Mainnet)
	mintA := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	mintB := solana.NewWallet().PublicKey()

	a, err := Derive(params, mintA)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	b, err := Derive(params, mintB)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	if a.Equals(b) {
		t.Error("different mints should derive different pool addresses")
	}
}
