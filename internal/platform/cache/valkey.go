// Package cache stores JSON documents in valkey.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Client is a thin JSON layer over a valkey client. Keys are namespaced as
// "<prefix>:<key>" so several services can share one valkey database.
type Client struct {
	vk     valkey.Client
	prefix string
}

// New connects to the valkey server at addr.
func New(addr, prefix string) (*Client, error) {
	vk, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{addr},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect valkey %s: %w", addr, err)
	}
	return &Client{vk: vk, prefix: strings.TrimSuffix(prefix, ":")}, nil
}

func (c *Client) key(k string) string {
	prefix := strings.TrimSuffix(c.prefix, ":")
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}

// ttlSeconds rounds ttl down to whole seconds, with a floor of one.
func ttlSeconds(ttl time.Duration) int64 {
	if s := int64(ttl / time.Second); s > 0 {
		return s
	}
	return 1
}

// GetJSON decodes the value stored at key into dst. found is false on a miss.
func (c *Client) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.vk.Do(ctx, c.vk.B().Get().Key(c.key(key)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v at key for ttl.
func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	cmd := c.vk.B().Set().Key(c.key(key)).Value(valkey.BinaryString(raw)).ExSeconds(ttlSeconds(ttl)).Build()
	if err := c.vk.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetJSONIfAbsent stores v at key for ttl with SET NX. stored is false when
// key already held a value.
func (c *Client) SetJSONIfAbsent(ctx context.Context, key string, v any, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}
	cmd := c.vk.B().Set().Key(c.key(key)).Value(valkey.BinaryString(raw)).Nx().ExSeconds(ttlSeconds(ttl)).Build()
	err = c.vk.Do(ctx, cmd).Error()
	if valkey.IsValkeyNil(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("set nx %s: %w", key, err)
	}
	return true, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.vk.Do(ctx, c.vk.B().Del().Key(c.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.vk.Do(ctx, c.vk.B().Ping().Build()).Error()
}

func (c *Client) Close() {
	c.vk.Close()
}
