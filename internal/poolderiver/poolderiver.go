// Package poolderiver deterministically computes a pool's on-chain address
// from a token mint via two program-derived-address steps. Derivation is
// pure: no network I/O, no mutable state.
package poolderiver

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/curvewatch/internal/chainparams"
)

// DerivationError wraps any failure of the underlying PDA search. The
// deriver never returns a partially-valid address alongside an error.
type DerivationError struct {
	Step string
	Err  error
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("poolderiver: %s: %v", e.Step, e.Err)
}

func (e *DerivationError) Unwrap() error {
	return e.Err
}

// poolIndex is the canonical pool index; the deriver never searches other
// indices.
const poolIndex uint16 = 0

// Derive computes the canonical pool address for mint under the given
// network's program configuration.
func Derive(params *chainparams.Params, mint solana.PublicKey) (solana.PublicKey, error) {
	authority, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("pool-authority"), mint.Bytes()},
		params.BondingCurveProgram,
	)
	if err != nil {
		return solana.PublicKey{}, &DerivationError{Step: "pool-authority", Err: err}
	}

	indexLE := make([]byte, 2)
	binary.LittleEndian.PutUint16(indexLE, poolIndex)

	pool, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte("pool"),
			indexLE,
			authority.Bytes(),
			mint.Bytes(),
			params.NativeMint.Bytes(),
		},
		params.AMMProgram,
	)
	if err != nil {
		return solana.PublicKey{}, &DerivationError{Step: "pool", Err: err}
	}

	return pool, nil
}
