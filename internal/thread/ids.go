// ABOUTME: Placeholder thread id generation
// ABOUTME: Pending ids mark threads that have no durable id yet

package thread

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/threadsync/internal/conversation"
)

const pendingSuffixLen = 9

// NewPendingID returns "pending_<unix millis>_<9 base36 chars>".
func NewPendingID(now time.Time) string {
	u := uuid.New()
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(u[8:]), 36)
	if len(suffix) < pendingSuffixLen {
		suffix = strings.Repeat("0", pendingSuffixLen-len(suffix)) + suffix
	}
	suffix = suffix[len(suffix)-pendingSuffixLen:]

	return conversation.PendingPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix
}
