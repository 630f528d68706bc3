// ABOUTME: Interactive chat REPL driven by the streaming session driver
// ABOUTME: Prints deltas as they arrive and handles thread switching and interrupts

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/threadsync/internal/chat"
	"github.com/2389/threadsync/internal/conversation"
	"github.com/2389/threadsync/internal/thread"
)

func runChat(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return errors.New("usage: chat [thread-id]")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	r := &repl{app: a, out: os.Stdout}
	defer r.stop()

	if len(args) == 1 {
		err = r.open(ctx, args[0])
	} else {
		err = r.newThread(ctx)
	}
	if err != nil {
		return err
	}
	return r.run(ctx, os.Stdin)
}

type repl struct {
	app *app
	out io.Writer

	current  string
	updates  <-chan *chat.Update
	unfollow context.CancelFunc
	streamed bool
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	cyan.Fprintf(r.out, "threadsync %s (/help for commands, Ctrl+D to exit)\n\n", version)

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		errCh <- scanner.Err()
	}()

	for {
		green.Fprint(r.out, "> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case err := <-errCh:
			fmt.Fprintln(r.out)
			return err
		case line = <-lines:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		quit, err := r.handle(ctx, line)
		if err != nil {
			color.New(color.FgRed).Fprintf(r.out, "[error] %v\n", err)
		}
		if quit {
			return nil
		}
		fmt.Fprintln(r.out)
	}
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, r.send(ctx, line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/new":
		return false, r.newThread(ctx)
	case "/use":
		if arg == "" {
			return false, errors.New("usage: /use <thread-id>")
		}
		return false, r.open(ctx, arg)
	case "/show":
		if v := r.app.driver.View(); v != nil {
			printState(r.out, viewState(v))
		}
		return false, nil
	case "/threads":
		summaries, err := r.app.threads.List(ctx, thread.ListOptions{})
		if err != nil {
			return false, err
		}
		printSummaries(r.out, summaries)
		return false, nil
	case "/resolve":
		if !r.app.driver.ResolveInterrupt(r.current) {
			fmt.Fprintln(r.out, "No pending interrupt.")
		}
		return false, nil
	case "/help":
		printChatHelp(r.out)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s", cmd)
	}
}

func (r *repl) newThread(ctx context.Context) error {
	link, err := r.app.threads.NewPending(ctx, "")
	if err != nil {
		return err
	}
	return r.open(ctx, link.LocalID)
}

// open displays a thread and follows its updates.
func (r *repl) open(ctx context.Context, id string) error {
	view, err := r.app.driver.Select(ctx, id)
	if view == nil {
		return err
	}
	if err != nil {
		color.New(color.FgYellow).Fprintf(r.out, "warning: %v\n", err)
	}

	r.follow(ctx, view.LocalID)
	printState(r.out, viewState(view))
	return nil
}

func viewState(v *chat.View) *conversation.ThreadState {
	return &conversation.ThreadState{Messages: v.Messages, Interrupts: v.Interrupts}
}

func (r *repl) follow(ctx context.Context, id string) {
	r.stop()
	subCtx, cancel := context.WithCancel(ctx)
	r.current = id
	r.updates = r.app.driver.Subscribe(subCtx, id)
	r.unfollow = cancel
}

type sendResult struct {
	res *chat.Result
	err error
}

func (r *repl) stop() {
	if r.unfollow != nil {
		r.unfollow()
		r.unfollow = nil
	}
}

func (r *repl) send(ctx context.Context, content string) error {
	r.streamed = false
	done := make(chan sendResult, 1)
	go func() {
		res, err := r.app.driver.Send(ctx, chat.SendRequest{
			ThreadID:       r.current,
			Content:        content,
			IdempotencyKey: uuid.NewString(),
		})
		done <- sendResult{res, err}
	}()

	for {
		select {
		case u, ok := <-r.updates:
			if !ok {
				r.updates = nil
				continue
			}
			r.render(u)
		case s := <-done:
			r.drain()
			if s.res != nil && s.res.State == chat.Interrupted {
				printInterrupts(r.out, s.res.Interrupts)
				fmt.Fprintln(r.out, "Use /resolve once the interrupt is handled.")
			}
			return s.err
		}
	}
}

// drain renders updates published before Send returned.
func (r *repl) drain() {
	for {
		select {
		case u, ok := <-r.updates:
			if !ok {
				return
			}
			r.render(u)
		default:
			return
		}
	}
}

func (r *repl) render(u *chat.Update) {
	if u == nil {
		return
	}
	switch u.Kind {
	case chat.UpdateDelta:
		r.streamed = true
		fmt.Fprint(r.out, u.Delta)
	case chat.UpdateMessage:
		if u.State != chat.Completed {
			return
		}
		// A reply that carried no deltas is printed whole.
		if !r.streamed {
			fmt.Fprint(r.out, u.Message.Content)
		}
		fmt.Fprintln(r.out)
	case chat.UpdateState:
		if u.State == chat.Failed {
			fmt.Fprintln(r.out)
		}
	}
}

func printChatHelp(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  /new           Start a new thread")
	fmt.Fprintln(w, "  /use <id>      Switch to a thread")
	fmt.Fprintln(w, "  /show          Reprint the current thread")
	fmt.Fprintln(w, "  /threads       List your threads")
	fmt.Fprintln(w, "  /resolve       Clear a pending interrupt")
	fmt.Fprintln(w, "  /help          Show this help")
	fmt.Fprintln(w, "  /quit          Exit")
}
