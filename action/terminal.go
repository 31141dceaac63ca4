package action

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// TextNotifier writes feedback as lines of text.
type TextNotifier struct {
	W io.Writer

	mu   sync.Mutex
	next int
}

func (n *TextNotifier) Loading(message string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	fmt.Fprintf(n.W, "… %s\n", message)
	return strconv.Itoa(n.next)
}

func (n *TextNotifier) Success(_ string, message string) {
	fmt.Fprintf(n.W, "✓ %s\n", message)
}

func (n *TextNotifier) Error(_ string, message string) {
	fmt.Fprintf(n.W, "✗ %s\n", message)
}

// PromptConfirmer asks on Out and reads a y/yes answer from In.
type PromptConfirmer struct {
	In  io.Reader
	Out io.Writer
	// Assume answers yes without prompting.
	Assume bool
}

func (c *PromptConfirmer) Confirm(_ context.Context, message string) bool {
	if c.Assume {
		return true
	}
	fmt.Fprintf(c.Out, "%s [y/N] ", message)
	answer, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// PrintNavigator reports where the user would be taken next.
type PrintNavigator struct {
	W io.Writer
}

func (p PrintNavigator) Push(path string) {
	fmt.Fprintf(p.W, "→ %s\n", path)
}

func (p PrintNavigator) Refresh() {}
