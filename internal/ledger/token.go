package ledger

import (
	"crypto/rand"
	"encoding/binary"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// TokenPrefix starts every server-generated order token.
const TokenPrefix = "ord_"

var (
	tokenSeq       atomic.Uint64
	clientTokenRex = regexp.MustCompile(`^[A-Za-z0-9_-]{6,64}$`)
)

// NewToken returns a fresh order token. It combines the wall clock, a
// process-wide sequence and 96 random bits, so two tokens only collide if
// both the clock and the sequence repeat (clock rollback across a restart)
// and the random parts also match.
func NewToken() string {
	return newToken(time.Now())
}

func newToken(now time.Time) string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(TokenPrefix)
	b.WriteString(strconv.FormatInt(now.UnixNano(), 36))
	b.WriteByte('_')
	b.WriteString(strconv.FormatUint(tokenSeq.Add(1), 36))
	b.WriteByte('_')
	b.WriteString(random48())
	b.WriteString(random48())
	return b.String()
}

// random48 renders 48 random bits as exactly 10 base36 digits.
func random48() string {
	var buf [8]byte
	if _, err := rand.Read(buf[2:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(err)
	}
	s := strconv.FormatUint(binary.BigEndian.Uint64(buf[:]), 36)
	return strings.Repeat("0", 10-len(s)) + s
}

// ValidClientToken reports whether a client-supplied token is acceptable.
func ValidClientToken(tok string) bool {
	return clientTokenRex.MatchString(tok)
}
