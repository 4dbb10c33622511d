package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rewired-gh/repricer/internal/models"
)

// stdinConfirmer asks the operator on the terminal before each price change.
// Once stop is done every pending and later prompt is declined, so a shutdown
// never waits on the operator.
type stdinConfirmer struct {
	stop    context.Context
	out     io.Writer
	lines   chan string
	readErr error
}

func newStdinConfirmer(stop context.Context, in io.Reader, out io.Writer) *stdinConfirmer {
	c := &stdinConfirmer{stop: stop, out: out, lines: make(chan string)}
	go c.read(bufio.NewReader(in))
	return c
}

func (c *stdinConfirmer) read(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			c.lines <- line
		}
		if err != nil {
			c.readErr = err
			close(c.lines)
			return
		}
	}
}

func (c *stdinConfirmer) Confirm(ctx context.Context, l models.Listing, newPrice models.Price) (bool, error) {
	if err := c.stop.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(c.out, "%s\n  current: %s  best: %s  position: ~%d\n  new price: %s\nApply? [y/N]: ",
		l.MarketHashName, l.CurrentPrice, l.BestPrice, l.Position, newPrice)

	select {
	case <-c.stop.Done():
		fmt.Fprintln(c.out)
		return false, c.stop.Err()
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return false, c.readErr
		}
		return accepted(line), nil
	}
}

func accepted(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "y", "да":
		return true
	}
	return false
}
