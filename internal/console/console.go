// Package console renders ingress events on a terminal. It polls the event
// queue on a fixed interval instead of blocking on it.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/andy6609/wifi-ingress/internal/ingress"
)

const stampLayout = "2006-01-02 15:04:05"

// Source is what the printer polls. *ingress.Server satisfies it.
type Source interface {
	Drain() []ingress.Event
	Clients() []ingress.Address
}

type Printer struct {
	w            io.Writer
	stamp        *color.Color
	connected    *color.Color
	disconnected *color.Color
	message      *color.Color
}

// NewPrinter writes to w. mode is "always", "never" or "auto"; auto colors
// only when w is a terminal.
func NewPrinter(w io.Writer, mode string) *Printer {
	p := &Printer{
		w:            w,
		stamp:        color.New(color.Faint),
		connected:    color.New(color.FgGreen),
		disconnected: color.New(color.FgYellow),
		message:      color.New(color.FgCyan),
	}
	enabled := colorEnabled(w, mode)
	for _, c := range []*color.Color{p.stamp, p.connected, p.disconnected, p.message} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func colorEnabled(w io.Writer, mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Run flushes src every interval until ctx is done, then flushes once more.
func Run(ctx context.Context, src Source, p *Printer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Flush(src)
			return
		case <-ticker.C:
			p.Flush(src)
		}
	}
}

// Flush prints every pending event and, if membership changed, the current
// client list. It returns the number of events printed.
func (p *Printer) Flush(src Source) int {
	events := src.Drain()
	changed := false
	for _, ev := range events {
		p.Print(ev)
		if ev.Kind != ingress.EventMessage {
			changed = true
		}
	}
	if changed {
		p.PrintClients(src.Clients())
	}
	return len(events)
}

func (p *Printer) Print(ev ingress.Event) {
	stamp := p.stamp.Sprintf("[%s]", ev.At.Format(stampLayout))
	switch ev.Kind {
	case ingress.EventConnected:
		fmt.Fprintf(p.w, "%s %s\n", stamp, p.connected.Sprintf("client connected: %s", ev.Addr))
	case ingress.EventDisconnected:
		fmt.Fprintf(p.w, "%s %s\n", stamp, p.disconnected.Sprintf("client disconnected: %s (%s)", ev.Addr, ev.Reason))
	case ingress.EventMessage:
		fmt.Fprintf(p.w, "%s %s -> %s\n", stamp, p.message.Sprint(ev.Addr.String()), ev.Text)
	}
}

func (p *Printer) PrintClients(clients []ingress.Address) {
	if len(clients) == 0 {
		fmt.Fprintln(p.w, "clients: (no clients connected)")
		return
	}
	names := make([]string, len(clients))
	for i, c := range clients {
		names[i] = c.String()
	}
	fmt.Fprintf(p.w, "clients: %s\n", strings.Join(names, ", "))
}
