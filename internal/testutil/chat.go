package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// ReplyFunc computes a scripted answer for a prompt.
type ReplyFunc func(system, user string) (any, error)

type rule struct {
	match string
	reply ReplyFunc
}

// Chat answers prompts from a script. Rules match on a substring of the
// system prompt; the first matching rule wins.
type Chat struct {
	mu    sync.Mutex
	rules []rule
	calls map[string]int
}

// NewChat creates an empty script.
func NewChat() *Chat {
	return &Chat{calls: make(map[string]int)}
}

// On answers prompts whose system text contains match with reply.
func (c *Chat) On(match string, reply any) *Chat {
	return c.OnFunc(match, func(string, string) (any, error) { return reply, nil })
}

// OnFunc answers prompts whose system text contains match with fn.
func (c *Chat) OnFunc(match string, fn ReplyFunc) *Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule{match: match, reply: fn})
	return c
}

// Calls returns how often the rule for match answered.
func (c *Chat) Calls(match string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[match]
}

// Chat implements llm.Chatter.
func (c *Chat) Chat(ctx context.Context, system, user string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	var fn ReplyFunc
	for _, r := range c.rules {
		if strings.Contains(system, r.match) {
			c.calls[r.match]++
			fn = r.reply
			break
		}
	}
	c.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("no scripted reply for prompt: %.80s", system)
	}

	reply, err := fn(system, user)
	if err != nil {
		return err
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return err
	}
	if v, ok := out.(interface{ Validate() error }); ok {
		return v.Validate()
	}
	return nil
}
