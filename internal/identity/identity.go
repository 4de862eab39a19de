// Package identity parses the Hedera account identifiers that callers bind to
// a connection, and maps them onto EVM addresses.
package identity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidAccountID is returned for identifiers not in shard.realm.num form.
var ErrInvalidAccountID = errors.New("invalid account id")

var accountIDPattern = regexp.MustCompile(`^(\d{1,10})\.(\d{1,19})\.(\d{1,19})$`)

// AccountID is a Hedera entity id of the form shard.realm.num.
type AccountID struct {
	Shard uint32
	Realm uint64
	Num   uint64
}

// ParseAccountID parses "0.0.1234".
func ParseAccountID(s string) (AccountID, error) {
	m := accountIDPattern.FindStringSubmatch(s)
	if m == nil {
		return AccountID{}, fmt.Errorf("%w: %q", ErrInvalidAccountID, s)
	}
	shard, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return AccountID{}, fmt.Errorf("%w: shard: %v", ErrInvalidAccountID, err)
	}
	realm, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return AccountID{}, fmt.Errorf("%w: realm: %v", ErrInvalidAccountID, err)
	}
	num, err := strconv.ParseUint(m[3], 10, 64)
	if err != nil {
		return AccountID{}, fmt.Errorf("%w: num: %v", ErrInvalidAccountID, err)
	}
	return AccountID{Shard: uint32(shard), Realm: realm, Num: num}, nil
}

// String returns the canonical shard.realm.num form.
func (a AccountID) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Shard, a.Realm, a.Num)
}

// EVMAddress returns the long-zero address: 4 bytes shard, 8 bytes realm,
// 8 bytes num, all big-endian.
func (a AccountID) EVMAddress() common.Address {
	var addr common.Address
	binary.BigEndian.PutUint32(addr[0:4], a.Shard)
	binary.BigEndian.PutUint64(addr[4:12], a.Realm)
	binary.BigEndian.PutUint64(addr[12:20], a.Num)
	return addr
}

// FromEVMAddress is the inverse of EVMAddress. ok is false for addresses
// that are not long-zero encoded.
func FromEVMAddress(addr common.Address) (AccountID, bool) {
	shard := binary.BigEndian.Uint32(addr[0:4])
	realm := binary.BigEndian.Uint64(addr[4:12])
	num := binary.BigEndian.Uint64(addr[12:20])
	if shard != 0 || realm > 1<<16 {
		return AccountID{}, false
	}
	return AccountID{Shard: shard, Realm: realm, Num: num}, true
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
