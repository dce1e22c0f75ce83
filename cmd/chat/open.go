package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/matheus3301/socialchat/internal/render"
	intsync "github.com/matheus3301/socialchat/internal/sync"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errQuit = errors.New("quit")

var openCmd = &cobra.Command{
	Use:   "open <conversation-id>",
	Short: "Open a conversation and chat interactively",
	Long: `Open a conversation, show its history and follow new messages.

Type a line and press enter to send it. Commands:
  /retry          fetch the history again
  /resend <id>    send a failed message again
  /quit           leave (Ctrl-D works too)`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func runOpen(cmd *cobra.Command, args []string) error {
	conversationID := args[0]
	var engine *intsync.Engine
	return runApp(cmd.Context(), true, func(ctx context.Context) error {
		th, err := engine.Open(ctx, conversationID)
		if err != nil {
			return err
		}
		defer th.Close()

		v := newView(os.Stdout)
		lines := readLines(os.Stdin)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return v.follow(ctx, th) })
		g.Go(func() error { return inputLoop(ctx, th, lines) })
		if err := g.Wait(); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}, &engine)
}

// readLines feeds stdin lines into a channel that is closed on EOF. The
// reader goroutine cannot be interrupted and ends with the process.
func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}

func inputLoop(ctx context.Context, th *intsync.Thread, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := handleLine(ctx, th, line); err != nil {
				if errors.Is(err, errQuit) || errors.Is(err, intsync.ErrClosed) {
					return err
				}
				fmt.Fprintf(os.Stderr, "! %v\n", err)
			}
		}
	}
}

func handleLine(ctx context.Context, th *intsync.Thread, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
		return nil
	case "/quit":
		return errQuit
	case "/retry":
		return th.Retry()
	case "/resend":
		if arg == "" {
			return errors.New("usage: /resend <id>")
		}
		_, err := th.ResendFailed(ctx, strings.TrimSpace(arg))
		return err
	}
	_, err := th.Send(ctx, line)
	return err
}

// view re-renders the thread whenever it changes.
type view struct {
	out  io.Writer
	tty  bool
	r    render.Renderer
	last uint64
}

func newView(f *os.File) *view {
	tty := false
	if fi, err := f.Stat(); err == nil {
		tty = fi.Mode()&os.ModeCharDevice != 0
	}
	return &view{out: f, tty: tty}
}

func (v *view) follow(ctx context.Context, th *intsync.Thread) error {
	for {
		if err := v.draw(th.Snapshot()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-th.Done():
			return v.draw(th.Snapshot())
		case <-th.Changed():
		}
	}
}

func (v *view) draw(s intsync.Snapshot) error {
	if s.Version == v.last {
		return nil
	}
	v.last = s.Version
	if v.tty {
		// Clear the screen and home the cursor.
		if _, err := io.WriteString(v.out, "\x1b[H\x1b[2J"); err != nil {
			return err
		}
	}
	if err := v.r.Thread(v.out, s); err != nil {
		return err
	}
	if v.tty {
		_, err := io.WriteString(v.out, "> ")
		return err
	}
	return nil
}
