// Package revenue computes the payout split for a confirmed scene across
// its ancestor chain, the movie owner and the platform treasury. All
// arithmetic is integer basis points so the credited amounts always sum
// exactly to the escrowed amount.
package revenue

import "errors"

// TotalBasisPoints is the denominator for share arithmetic: 10000 basis
// points equal 100 percent.
const TotalBasisPoints = 10000

// ErrInvalidShares is returned when the five shares do not sum to exactly
// TotalBasisPoints.
var ErrInvalidShares = errors.New("revenue shares must sum to exactly 10000 basis points")

// Shares holds the five-way revenue split in basis points.
type Shares struct {
	ParentBp           int64 `json:"parent_bp"`
	GrandparentBp      int64 `json:"grandparent_bp"`
	GreatGrandparentBp int64 `json:"great_grandparent_bp"`
	MovieOwnerBp       int64 `json:"movie_owner_bp"`
	PlatformBp         int64 `json:"platform_bp"`
}

// Validate checks the sum invariant. Negative shares are rejected by the
// same rule since any negative entry forces another above 10000.
func (s Shares) Validate() error {
	if s.ParentBp < 0 || s.GrandparentBp < 0 || s.GreatGrandparentBp < 0 ||
		s.MovieOwnerBp < 0 || s.PlatformBp < 0 {
		return ErrInvalidShares
	}
	if s.ParentBp+s.GrandparentBp+s.GreatGrandparentBp+s.MovieOwnerBp+s.PlatformBp != TotalBasisPoints {
		return ErrInvalidShares
	}
	return nil
}

// Distribution is the computed payout for one confirmation. A zero amount
// with an empty address means the corresponding ancestor does not exist and
// its share was folded into the movie owner's credit.
type Distribution struct {
	ParentAddress           string
	ParentAmount            int64
	GrandparentAddress      string
	GrandparentAmount       int64
	GreatGrandparentAddress string
	GreatGrandparentAmount  int64
	MovieOwnerAddress       string
	MovieOwnerAmount        int64
	PlatformAddress         string
	PlatformAmount          int64
}

// Total returns the sum of all credited amounts.
func (d Distribution) Total() int64 {
	return d.ParentAmount + d.GrandparentAmount + d.GreatGrandparentAmount +
		d.MovieOwnerAmount + d.PlatformAmount
}

// Credits returns the distribution as an address-to-amount map, merging
// entries that share an address.
func (d Distribution) Credits() map[string]int64 {
	credits := make(map[string]int64, 5)
	add := func(addr string, amount int64) {
		if addr != "" && amount > 0 {
			credits[addr] += amount
		}
	}
	add(d.ParentAddress, d.ParentAmount)
	add(d.GrandparentAddress, d.GrandparentAmount)
	add(d.GreatGrandparentAddress, d.GreatGrandparentAmount)
	add(d.MovieOwnerAddress, d.MovieOwnerAmount)
	add(d.PlatformAddress, d.PlatformAmount)
	return credits
}

// Split computes the payout for amount given the creator addresses of the
// confirming scene's real ancestors, nearest first. A chain shorter than
// three means the missing ancestors are genesis or beyond; their shares
// fold into the movie owner's credit.
//
// The movie owner's credit is computed as the residual after the exact
// ancestor and platform shares, so integer-division remainders are absorbed
// there and the five amounts always sum to amount.
func Split(amount int64, shares Shares, ancestorCreators []string, movieOwner, platform string) Distribution {
	d := Distribution{
		MovieOwnerAddress: movieOwner,
		PlatformAddress:   platform,
	}

	if len(ancestorCreators) > 0 && ancestorCreators[0] != "" {
		d.ParentAddress = ancestorCreators[0]
		d.ParentAmount = amount * shares.ParentBp / TotalBasisPoints
	}
	if len(ancestorCreators) > 1 && ancestorCreators[1] != "" {
		d.GrandparentAddress = ancestorCreators[1]
		d.GrandparentAmount = amount * shares.GrandparentBp / TotalBasisPoints
	}
	if len(ancestorCreators) > 2 && ancestorCreators[2] != "" {
		d.GreatGrandparentAddress = ancestorCreators[2]
		d.GreatGrandparentAmount = amount * shares.GreatGrandparentBp / TotalBasisPoints
	}

	d.PlatformAmount = amount * shares.PlatformBp / TotalBasisPoints
	d.MovieOwnerAmount = amount - d.ParentAmount - d.GrandparentAmount -
		d.GreatGrandparentAmount - d.PlatformAmount
	return d
}
