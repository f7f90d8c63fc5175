package intake

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/rulebase"
)

// ErrInputClosed is returned when input ends before every symptom is answered.
var ErrInputClosed = errors.New("input closed before all symptoms were answered")

// Prompter asks a yes/no question per symptom on a console.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	lines    chan string
	done     chan struct{}
	stopOnce sync.Once
	readErr  error // set before lines is closed
}

// NewPrompter creates a prompter reading from in and writing to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{In: in, Out: out}
}

// Ask walks rb.Symptoms() in order and re-asks until each reply is valid.
// When ctx is done the Prompter is closed and cannot be used again.
func (p *Prompter) Ask(ctx context.Context, rb *rulebase.RuleBase) (domain.Observations, error) {
	p.start()

	symptoms := rb.Symptoms()
	obs := make(domain.Observations, len(symptoms))
	for _, s := range symptoms {
		present, err := p.askOne(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				p.Close()
			}
			return nil, err
		}
		obs[s] = present
	}
	return obs, nil
}

func (p *Prompter) askOne(ctx context.Context, symptom string) (bool, error) {
	for {
		fmt.Fprintf(p.Out, "Do you have '%s'? [y/n]: ", symptom)

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case line, ok := <-p.lines:
			if !ok {
				if p.readErr != nil {
					return false, fmt.Errorf("read answer: %w", p.readErr)
				}
				return false, ErrInputClosed
			}
			if present, valid := ParseReply(line); valid {
				return present, nil
			}
			fmt.Fprintln(p.Out, "Please answer 'y' or 'n'.")
		}
	}
}

// Close stops the line reader. A reader blocked inside In.Read exits once
// that read returns.
func (p *Prompter) Close() {
	p.start()
	p.stopOnce.Do(func() { close(p.done) })
}

// start launches the line reader once.
func (p *Prompter) start() {
	if p.lines != nil {
		return
	}
	p.lines = make(chan string)
	p.done = make(chan struct{})
	go func() {
		defer close(p.lines)
		sc := bufio.NewScanner(p.In)
		for sc.Scan() {
			select {
			case p.lines <- sc.Text():
			case <-p.done:
				return
			}
		}
		p.readErr = sc.Err()
	}()
}
