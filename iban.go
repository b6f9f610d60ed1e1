package bankd

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
)

// maxAccountNumber bounds the drawable account number space, [1, 99999].
const maxAccountNumber = 99999

// IBANGenerator produces 22-character IBANs of the shape
// country(2) || check(2) || bic(8) || number(10), with ISO 13616 mod-97
// check digits. Account numbers are drawn at random and rejected on
// collision with the existing set, the strategy has no persistent state.
type IBANGenerator struct {
	cfg  BankConfig
	repo Repository
}

func NewIBANGenerator(cfg BankConfig, repo Repository) *IBANGenerator {
	return &IBANGenerator{
		cfg:  cfg,
		repo: repo,
	}
}

// NextIBAN returns an IBAN unused by any account known to the repository
// at call time. Two racing callers can still draw the same number; the
// unique constraint on the accounts table is the backstop and callers
// retry on ErrConflict.
func (g *IBANGenerator) NextIBAN(ctx context.Context) (string, error) {
	existing, err := g.repo.AllIBANs(ctx)
	if err != nil {
		return "", err
	}
	if len(existing) >= maxAccountNumber {
		return "", ErrExhaustedIBANSpace{}
	}

	taken := make(map[int64]struct{}, len(existing))
	for iban := range existing {
		var n int64
		// the numeric suffix starts after country(2)+check(2)+bic(8)
		if len(iban) == 22 {
			fmt.Sscanf(iban[12:], "%d", &n)
			taken[n] = struct{}{}
		}
	}

	var number int64
	for {
		number = rand.Int63n(maxAccountNumber) + 1
		if _, ok := taken[number]; !ok {
			break
		}
	}

	return composeIBAN(g.cfg.CountryCode, g.cfg.BIC, number), nil
}

func composeIBAN(countryCode, bic string, number int64) string {
	bban := fmt.Sprintf("%s%010d", bic, number)
	return countryCode + checkDigits(bban, countryCode) + bban
}

// checkDigits computes the two ISO 13616 check digits: letters in
// bban || countryCode || "00" are rewritten to (letter - 'A') + 10 and
// the resulting digit string N yields 98 - (N mod 97).
func checkDigits(bban, countryCode string) string {
	expanded := expandLetters(bban + countryCode + "00")

	n := new(big.Int)
	n.SetString(expanded, 10)
	rem := new(big.Int).Mod(n, big.NewInt(97))

	return fmt.Sprintf("%02d", 98-rem.Int64())
}

func expandLetters(s string) string {
	buf := make([]byte, 0, len(s)*2)
	for _, ch := range []byte(s) {
		switch {
		case ch >= 'A' && ch <= 'Z':
			buf = append(buf, []byte(fmt.Sprintf("%d", int(ch-'A')+10))...)
		case ch >= 'a' && ch <= 'z':
			buf = append(buf, []byte(fmt.Sprintf("%d", int(ch-'a')+10))...)
		default:
			buf = append(buf, ch)
		}
	}
	return string(buf)
}
