package counting

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// FractionalParamsLength is the size of a packed fractional ballot: three
// big-endian uint128 values in the order against, for, abstain.
const FractionalParamsLength = 48

const weightBits = 128

// ErrWeightOverflow is returned when a ballot weight does not fit 128 bits.
var ErrWeightOverflow = errors.New("counting: weight exceeds 128 bits")

// PackFractional encodes a fractional ballot.
func PackFractional(against, forVotes, abstain *uint256.Int) ([]byte, error) {
	out := make([]byte, FractionalParamsLength)
	for i, w := range []*uint256.Int{against, forVotes, abstain} {
		if w.BitLen() > weightBits {
			return nil, errors.Wrapf(ErrWeightOverflow, "%s weight %s", Support(i), w.Dec())
		}
		b := w.Bytes32()
		copy(out[i*16:(i+1)*16], b[16:])
	}
	return out, nil
}

// UnpackFractional decodes a ballot produced by PackFractional.
func UnpackFractional(params []byte) (against, forVotes, abstain *uint256.Int, err error) {
	if len(params) != FractionalParamsLength {
		return nil, nil, nil, errors.Wrapf(ErrInvalidVoteData, "got %d bytes, want %d", len(params), FractionalParamsLength)
	}
	against = new(uint256.Int).SetBytes(params[0:16])
	forVotes = new(uint256.Int).SetBytes(params[16:32])
	abstain = new(uint256.Int).SetBytes(params[32:48])
	return against, forVotes, abstain, nil
}
