package session

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/1ureka/commlink/internal/protocol"
)

// Printer observes each message handed to a receiver when verbose output is
// enabled. It must not retain or modify msg.
type Printer interface {
	Print(msg protocol.Message)
}

// PrinterFunc adapts a function to Printer.
type PrinterFunc func(protocol.Message)

func (f PrinterFunc) Print(msg protocol.Message) { f(msg) }

// TextPrinter writes each message that is valid UTF-8 as one line. Anything
// else is skipped silently.
type TextPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextPrinter returns a TextPrinter writing to w, or stdout if w is nil.
func NewTextPrinter(w io.Writer) *TextPrinter {
	if w == nil {
		w = os.Stdout
	}
	return &TextPrinter{w: w}
}

func (p *TextPrinter) Print(msg protocol.Message) {
	text, ok := protocol.Text(msg)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, text)
}
