package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ConfigError is a failure to load or store the settings document.
// It is never fatal: callers keep their last-known copy.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("settings %s: %v", e.Op, e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }

// Store persists the document. The engine's create_config command loads it
// when contents is empty and stores contents otherwise; both return the
// persisted document.
type Store interface {
	CreateConfig(ctx context.Context, contents string) (json.RawMessage, error)
}

// Client reads and writes the settings document through a Store.
type Client struct {
	store Store

	mu        sync.Mutex
	persisted *Document
}

func NewClient(store Store) *Client {
	return &Client{store: store}
}

// LoadOrCreate returns the stored document; the store creates it on first use.
func (c *Client) LoadOrCreate(ctx context.Context) (Document, error) {
	raw, err := c.store.CreateConfig(ctx, "")
	if err != nil {
		return Document{}, &ConfigError{Op: "load", Err: err}
	}
	doc, err := Parse(raw)
	if err != nil {
		return Document{}, &ConfigError{Op: "load", Err: err}
	}
	c.remember(doc)
	return doc, nil
}

// Save writes doc and returns the copy the store persisted. Saving a
// document equal to the last persisted one does not reach the store.
func (c *Client) Save(ctx context.Context, doc Document) (Document, error) {
	if err := doc.Validate(); err != nil {
		return Document{}, &ConfigError{Op: "save", Err: err}
	}

	c.mu.Lock()
	if c.persisted != nil && *c.persisted == doc {
		c.mu.Unlock()
		return doc, nil
	}
	c.mu.Unlock()

	contents, err := doc.Encode()
	if err != nil {
		return Document{}, &ConfigError{Op: "save", Err: err}
	}
	raw, err := c.store.CreateConfig(ctx, contents)
	if err != nil {
		return Document{}, &ConfigError{Op: "save", Err: err}
	}
	saved, err := Parse(raw)
	if err != nil {
		return Document{}, &ConfigError{Op: "save", Err: err}
	}
	c.remember(saved)
	return saved, nil
}

func (c *Client) remember(doc Document) {
	c.mu.Lock()
	c.persisted = &doc
	c.mu.Unlock()
}
