/**
 * @description
 * This file contains the minting fee policy: a pure computation splitting a
 * gross USD value into the net amount issued to the depositor and the fee
 * routed to the fee recipient.
 *
 * @notes
 * - The split uses truncating integer division, so rounding always favors
 *   the depositor: fee = floor(gross * rateBps / 10000) and
 *   net + fee == gross holds exactly for every input.
 */

package app

import "math/big"

const (
	// FeeDenominatorBps is the basis-point scale: 10000 bps = 100%.
	FeeDenominatorBps = 10_000
	// MaxMintingFeeBps caps the configurable minting fee at 10%.
	MaxMintingFeeBps = 1_000
)

var feeDenominator = big.NewInt(FeeDenominatorBps)

// splitFee converts a gross 18-decimal USD value into (net, fee) under the
// given basis-point rate. Inputs are not mutated.
func splitFee(gross *big.Int, rateBps int64) (net *big.Int, fee *big.Int) {
	fee = new(big.Int).Mul(gross, big.NewInt(rateBps))
	fee.Quo(fee, feeDenominator)
	net = new(big.Int).Sub(gross, fee)
	return net, fee
}

// validFeeRate reports whether a proposed minting fee rate is inside the
// [0, MaxMintingFeeBps] bound.
func validFeeRate(rateBps int64) bool {
	return rateBps >= 0 && rateBps <= MaxMintingFeeBps
}
