package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// Tone selects a banner colour.
type Tone int

const (
	ToneNotice Tone = iota
	ToneStep
	ToneMail
	ToneSearch
	ToneGroup
	ToneWarn
)

var toneAttrs = map[Tone][]color.Attribute{
	ToneNotice: {color.FgYellow},
	ToneStep:   {color.FgGreen},
	ToneMail:   {color.FgCyan},
	ToneSearch: {color.FgMagenta},
	ToneGroup:  {color.FgBlue, color.Bold},
	ToneWarn:   {color.FgRed},
}

// Console writes step banners and reads confirmations. Colour and spinners
// are only used when out is a terminal.
type Console struct {
	out      io.Writer
	in       *bufio.Reader
	colorize bool
	mu       sync.Mutex
}

// New wraps out and in. A nil in makes Confirm answer "no".
func New(out io.Writer, in io.Reader) *Console {
	c := &Console{out: out, colorize: IsTerminal(out)}
	if in != nil {
		c.in = bufio.NewReader(in)
	}
	return c
}

// Discard is a console that writes nowhere.
func Discard() *Console {
	return &Console{out: io.Discard}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Colorize reports whether output carries ANSI colour.
func (c *Console) Colorize() bool { return c.colorize }

// SetColorize forces colour on or off.
func (c *Console) SetColorize(enabled bool) { c.colorize = enabled }

func (c *Console) paint(tone Tone, text string) string {
	attrs, ok := toneAttrs[tone]
	if !ok {
		return text
	}
	painter := color.New(attrs...)
	if c.colorize {
		painter.EnableColor()
	} else {
		painter.DisableColor()
	}
	return painter.Sprint(text)
}

// Banner prints a coloured line such as "STEP 1: BIDS validation...".
func (c *Console) Banner(tone Tone, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.paint(tone, fmt.Sprintf(format, args...)))
}

// Println writes an uncoloured line.
func (c *Console) Println(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// Confirm prints prompt and reads one line; only "y" or "yes" (any case)
// confirms. End of input answers no.
func (c *Console) Confirm(prompt string) (bool, error) {
	c.mu.Lock()
	fmt.Fprint(c.out, c.paint(ToneWarn, prompt+" (y/n): "))
	c.mu.Unlock()
	if c.in == nil {
		return false, nil
	}
	line, err := c.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Spinner animates while a long step runs.
type Spinner struct {
	bar  *progressbar.ProgressBar
	stop chan struct{}
	done chan struct{}
}

// StartSpinner shows an indeterminate spinner labelled description. On a
// non-terminal it prints the description once and returns an inert spinner.
func (c *Console) StartSpinner(description string) *Spinner {
	if !c.colorize {
		c.Println("%s", description)
		return &Spinner{}
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(c.out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionEnableColorCodes(true),
	)
	s := &Spinner{bar: bar, stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()
	return s
}

// Describe updates the spinner label.
func (s *Spinner) Describe(description string) {
	if s == nil || s.bar == nil {
		return
	}
	s.bar.Describe(description)
}

// Stop halts the animation and clears the line. It is safe to call twice.
func (s *Spinner) Stop() {
	if s == nil || s.bar == nil || s.stop == nil {
		return
	}
	select {
	case <-s.stop:
		return
	default:
		close(s.stop)
	}
	<-s.done
	_ = s.bar.Finish()
}
