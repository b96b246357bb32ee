package main

import "log/slog"

type closer struct {
	name string
	fn   func() error
}

// closers releases resources in reverse order of acquisition. main runs it
// itself because os.Exit skips deferred calls.
type closers struct {
	log  *slog.Logger
	list []closer
}

func (c *closers) add(name string, fn func() error) {
	c.list = append(c.list, closer{name: name, fn: fn})
}

// run closes everything once, last added first.
func (c *closers) run() {
	for i := len(c.list) - 1; i >= 0; i-- {
		cl := c.list[i]
		if err := cl.fn(); err != nil && c.log != nil {
			c.log.Warn("close failed", slog.String("resource", cl.name), slog.String("error", err.Error()))
		}
	}
	c.list = nil
}
