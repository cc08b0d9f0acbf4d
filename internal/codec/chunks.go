package codec

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"obsidion/internal/domain"
)

const (
	// assemblerCapacity bounds concurrently open chunk groups.
	assemblerCapacity = 64
	// DefaultGroupTTL evicts groups that never complete.
	DefaultGroupTTL = 5 * time.Minute
)

type chunkBuffer struct {
	slots  []*string
	filled int
	done   bool
}

// Assembler accumulates chunked inner messages until their group is
// complete. Groups are keyed by chunk id and evicted on a TTL so a stalled
// sender cannot pin memory forever. Not safe for concurrent use; the
// session lock serializes access.
type Assembler struct {
	groups *expirable.LRU[string, *chunkBuffer]
}

// NewAssembler builds an assembler. onEvict, when non-nil, is told the id
// of every group dropped before completion.
func NewAssembler(ttl time.Duration, onEvict func(chunkID string)) *Assembler {
	if ttl <= 0 {
		ttl = DefaultGroupTTL
	}
	cb := func(id string, buf *chunkBuffer) {
		if !buf.done && onEvict != nil {
			onEvict(id)
		}
	}
	return &Assembler{groups: expirable.NewLRU[string, *chunkBuffer](assemblerCapacity, cb, ttl)}
}

// Add places one chunk. It returns the concatenated blob once every slot
// of the group is filled; before that it returns done=false. A chunk whose
// announced group length disagrees with the existing buffer drops the
// whole group and errors.
func (a *Assembler) Add(meta domain.ChunkMeta, part string) (blob string, done bool, err error) {
	if meta.Length < 1 || meta.Index < 0 || meta.Index >= meta.Length {
		return "", false, fmt.Errorf("%w: chunk %s index %d out of range for length %d",
			domain.ErrProtocol, meta.ID, meta.Index, meta.Length)
	}

	buf, ok := a.groups.Get(meta.ID)
	if !ok {
		buf = &chunkBuffer{slots: make([]*string, meta.Length)}
		a.groups.Add(meta.ID, buf)
	} else if len(buf.slots) != meta.Length {
		buf.done = true
		a.groups.Remove(meta.ID)
		return "", false, fmt.Errorf("%w: chunk %s announced length %d but group expects %d",
			domain.ErrProtocol, meta.ID, meta.Length, len(buf.slots))
	}

	if buf.slots[meta.Index] == nil {
		buf.slots[meta.Index] = &part
		buf.filled++
	}
	if buf.filled < len(buf.slots) {
		return "", false, nil
	}

	buf.done = true
	a.groups.Remove(meta.ID)

	var sb strings.Builder
	for _, s := range buf.slots {
		sb.WriteString(*s)
	}
	return sb.String(), true, nil
}

// Pending reports the number of open groups.
func (a *Assembler) Pending() int { return a.groups.Len() }

// ChunkPart extracts the string payload of a chunked inner message.
func ChunkPart(raw json.RawMessage) (string, error) {
	var part string
	if err := json.Unmarshal(raw, &part); err != nil {
		return "", fmt.Errorf("%w: chunked params must be a string: %v", domain.ErrProtocol, err)
	}
	return part, nil
}
