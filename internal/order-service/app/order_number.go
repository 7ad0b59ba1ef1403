package app

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

const (
	base36Alphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	orderNumberTime = 6
	orderNumberRand = 6
)

// GenerateOrderNumber returns prefix-TTTTTTRRRRRR: the last six digits of
// the unix millisecond clock followed by six random base36 characters.
// It is meant for support lookups and is not the primary key.
func GenerateOrderNumber(prefix string, now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > orderNumberTime {
		ms = ms[len(ms)-orderNumberTime:]
	}

	suffix := make([]byte, orderNumberRand)
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		suffix[i] = base36Alphabet[n.Int64()]
	}
	return prefix + "-" + ms + string(suffix)
}
