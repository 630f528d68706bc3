// ABOUTME: Non-interactive subcommands: threads, show, delete, export, whoami
// ABOUTME: Thin presentation over the thread coordinator and the transcript renderer

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/threadsync/internal/conversation"
	"github.com/2389/threadsync/internal/thread"
	"github.com/2389/threadsync/internal/transcript"
)

const displayTime = "2006-01-02 15:04"

func runThreads(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("threads", flag.ContinueOnError)
	userID := fs.String("user", "", "Only threads owned by this user id (admins only)")
	limit := fs.Int("limit", 50, "Maximum threads to list")
	offset := fs.Int("offset", 0, "Threads to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	summaries, err := a.threads.List(ctx, thread.ListOptions{Limit: *limit, Offset: *offset, UserID: *userID})
	if err != nil {
		return fmt.Errorf("listing threads: %w", err)
	}
	printSummaries(os.Stdout, summaries)
	return nil
}

func printSummaries(w io.Writer, summaries []thread.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No threads.")
		return
	}

	gray := color.New(color.FgHiBlack)
	for _, s := range summaries {
		fmt.Fprintf(w, "%-24s %-52s %4d msgs  %s\n",
			s.ID,
			s.Title,
			s.MessageCount,
			conversation.FormatTimestamp(s.UpdatedAt, displayTime))
		gray.Fprintf(w, "%-24s %s (%s) %s\n", "", s.UserEmail, s.UserID, s.Status)
	}

	totals := thread.Tally(summaries)
	fmt.Fprintf(w, "\n%d threads, %d messages, %d users\n", totals.Threads, totals.Messages, totals.Users)
}

func runShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: show <thread-id>")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	state, err := a.threads.SelectForDisplay(ctx, args[0])
	if state == nil {
		return err
	}
	if err != nil {
		color.Yellow("warning: %v\n", err)
	}
	printState(os.Stdout, state)
	return nil
}

func printState(w io.Writer, state *conversation.ThreadState) {
	if len(state.Messages) == 0 {
		fmt.Fprintln(w, "(no messages)")
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	gray := color.New(color.FgHiBlack)
	for _, m := range state.Messages {
		label := green
		if m.Role == conversation.RoleAssistant {
			label = cyan
		}
		label.Fprintf(w, "%s ", m.Role)
		gray.Fprintf(w, "%s\n", conversation.FormatTimestamp(m.Timestamp, displayTime))
		fmt.Fprintln(w, strings.TrimRight(m.Content, "\n"))
		fmt.Fprintln(w)
	}
	printInterrupts(w, state.Interrupts)
}

func printInterrupts(w io.Writer, interrupts []conversation.Interrupt) {
	yellow := color.New(color.FgYellow)
	for _, in := range interrupts {
		yellow.Fprintf(w, "[waiting on input] %s\n", in.Value)
	}
}

func runDelete(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: delete <thread-id>...")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		if err := a.threads.Delete(ctx, args[0]); err != nil {
			return err
		}
		color.Green("Deleted %s\n", args[0])
		return nil
	}

	res := a.threads.BulkDelete(ctx, args)
	for _, id := range res.Deleted {
		color.Green("Deleted %s\n", id)
	}
	for _, f := range res.Failed {
		color.Red("Failed  %s: %v\n", f.ID, f.Err)
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d of %d deletions failed; retry with: threadsync delete %s",
			len(res.Failed), len(res.Deleted)+len(res.Failed), strings.Join(res.FailedIDs(), " "))
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	format := fs.String("format", "md", "Output format: md or html")
	out := fs.String("out", "", "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: export [--format md|html] [--out FILE] <thread-id>")
	}
	if *format != "md" && *format != "html" {
		return fmt.Errorf("unknown format %q", *format)
	}
	id := fs.Arg(0)

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	state, err := a.threads.SelectForDisplay(ctx, id)
	if err != nil {
		// A partial transcript is worse than none.
		return err
	}

	w := io.Writer(os.Stdout)
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("creating %s: %w", *out, err)
		}
		defer f.Close()
		w = f
	}

	doc := transcript.Document{
		ThreadID: id,
		Title:    thread.Title(state.Messages),
		State:    state,
		Exported: time.Now(),
	}
	if *format == "html" {
		return transcript.HTML(w, doc)
	}
	return transcript.Markdown(w, doc)
}

func runWhoami(_ context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	claims := a.session.Claims()
	if claims == nil {
		return errors.New("not signed in")
	}

	green := color.New(color.FgGreen)
	green.Print("Subject: ")
	fmt.Println(claims.Subject)
	green.Print("Email:   ")
	fmt.Println(claims.Email)
	green.Print("Role:    ")
	fmt.Println(claims.Role)
	if exp := claims.Expiry(); !exp.IsZero() {
		green.Print("Expires: ")
		fmt.Println(exp.Local().Format(displayTime))
	}
	return nil
}
