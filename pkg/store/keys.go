package store

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Keyspace layout. Timestamps are UTC UnixNano zero-padded to 20 digits
// so lexicographic order equals chronological order; a process-local
// sequence breaks ties when two writes share a nanosecond.
//
//	schema:version                       schema marker
//	org:<org>:user:<user>                user profile
//	team:<team>:meta                     team metadata
//	chan:<chan>:meta                     channel metadata
//	chan:<chan>:member:<user>            channel membership
//	dm:<pair>:meta                       direct conversation metadata
//	conv:<conv>:msg:<ts-seq>             current message row
//	version:msg:<id>:<ts-seq>            message version history
//	latest:msg:<id>                      latest message pointer
//	msgloc:<id>                          message row key (for id lookup)
//	react:<id>:<user>:<emoji>            reaction row
//	receipt:<conv>:<user>                delivery receipt (direct only)
//	readmark:<conv>:<user>               read watermark
//	clearmark:<user>:<conv>              per-user clear watermark
//	call:<id>                            call record
//	callidx:<pair>:<ts>:<id>             per-pair call index
var seq uint64

// SortKey returns the padded "<ts>-<seq>" suffix used for message and
// call index keys.
func SortKey(ts int64) string {
	s := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("%020d-%06d", ts, s)
}

// PaddedTS returns the zero-padded timestamp prefix of a sort key.
func PaddedTS(ts int64) string {
	return fmt.Sprintf("%020d", ts)
}

// SortKeyFloor returns the lowest sort key at ts, used as a paging
// cursor positioned just before any row stored at ts.
func SortKeyFloor(ts int64) string {
	return fmt.Sprintf("%020d-%06d", ts, 0)
}

// TSFromSortKey parses the timestamp back out of a "<ts>-<seq>" suffix.
func TSFromSortKey(k string) (int64, error) {
	i := strings.IndexByte(k, '-')
	if i < 0 {
		i = len(k)
	}
	var ts int64
	if _, err := fmt.Sscanf(k[:i], "%d", &ts); err != nil {
		return 0, fmt.Errorf("invalid sort key %q: %w", k, err)
	}
	return ts, nil
}

func userKey(org, user string) string { return "org:" + org + ":user:" + user }
func teamKey(team string) string { return "team:" + team + ":meta" }
func chanKey(ch string) string { return "chan:" + ch + ":meta" }
func memberKey(ch, user string) string { return "chan:" + ch + ":member:" + user }
func dmKey(pair string) string { return "dm:" + pair + ":meta" }
func msgPrefix(conv string) string { return "conv:" + conv + ":msg:" }
func msgKey(conv, sort string) string { return msgPrefix(conv) + sort }
func versionPrefix(id string) string { return "version:msg:" + id + ":" }
func latestKey(id string) string { return "latest:msg:" + id }
func msglocKey(id string) string { return "msgloc:" + id }
func reactPrefix(id string) string { return "react:" + id + ":" }
func reactKey(id, u, e string) string { return reactPrefix(id) + u + ":" + e }
func receiptKey(conv, u string) string { return "receipt:" + conv + ":" + u }
func readmarkKey(conv, u string) string { return "readmark:" + conv + ":" + u }
func clearmarkKey(u, conv string) string {
	return "clearmark:" + u + ":" + conv
}
func callKey(id string) string { return "call:" + id }
func callIdxPrefix(pair string) string { return "callidx:" + pair + ":" }
func callIdxKey(pair, sort, id string) string {
	return callIdxPrefix(pair) + sort + ":" + id
}

// NowTS returns the canonical timestamp for new rows.
func NowTS() int64 { return time.Now().UTC().UnixNano() }
