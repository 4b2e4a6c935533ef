// Package iso7816test provides a scripted card for exercising code built on iso7816.Port.
package iso7816test

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/gregLibert/brizzi-terminal/pkg/tlv"
)

type rule struct {
	prefix  string
	replies [][]byte
	err     error
}

// Card is an iso7816.Transmitter that answers commands from a script.
//
// A rule matches every command starting with its hex prefix; the longest matching prefix wins.
// Queued replies are consumed in order and the last one keeps answering. Commands no rule
// matches fail like a lost connection.
type Card struct {
	mu    sync.Mutex
	rules []*rule
	sent  []string
}

// NewCard returns an empty script.
func NewCard() *Card {
	return &Card{}
}

// On queues a reply, given as hex parts, for commands starting with prefix.
func (c *Card) On(prefix string, reply ...string) *Card {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.rule(prefix)
	r.replies = append(r.replies, tlv.Hex(reply...))
	return c
}

// Set replaces the replies queued for prefix.
func (c *Card) Set(prefix string, reply ...string) *Card {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.rule(prefix)
	r.replies = [][]byte{tlv.Hex(reply...)}
	r.err = nil
	return c
}

// Fail makes commands starting with prefix fail with err.
func (c *Card) Fail(prefix string, err error) *Card {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rule(prefix).err = err
	return c
}

// Transmit implements iso7816.Transmitter.
func (c *Card) Transmit(cmd []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := strings.ToUpper(hex.EncodeToString(cmd))
	c.sent = append(c.sent, h)

	var best *rule
	for _, r := range c.rules {
		if strings.HasPrefix(h, r.prefix) && (best == nil || len(r.prefix) > len(best.prefix)) {
			best = r
		}
	}
	if best == nil {
		return nil, fmt.Errorf("unscripted command %s", h)
	}
	if best.err != nil {
		return nil, best.err
	}
	if len(best.replies) == 0 {
		return nil, fmt.Errorf("no reply scripted for %s", h)
	}

	reply := best.replies[0]
	if len(best.replies) > 1 {
		best.replies = best.replies[1:]
	}
	return append([]byte(nil), reply...), nil
}

// Sent returns every command received so far, as upper-case hex.
func (c *Card) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Count returns how many received commands start with prefix.
func (c *Card) Count(prefix string) int {
	prefix = normalize(prefix)
	n := 0
	for _, h := range c.Sent() {
		if strings.HasPrefix(h, prefix) {
			n++
		}
	}
	return n
}

func (c *Card) rule(prefix string) *rule {
	prefix = normalize(prefix)
	for _, r := range c.rules {
		if r.prefix == prefix {
			return r
		}
	}
	r := &rule{prefix: prefix}
	c.rules = append(c.rules, r)
	return r
}

func normalize(prefix string) string {
	return strings.ToUpper(strings.ReplaceAll(prefix, " ", ""))
}
