// ABOUTME: Entry point for the threadsync CLI
// ABOUTME: Dispatches chat, listing, display, deletion, export, and identity subcommands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
)

// Version is set at build time.
var version = "dev"

// getToken returns the session token.
// Priority: THREADSYNC_TOKEN env var > XDG_CONFIG_HOME/threadsync/token > ~/.config/threadsync/token
func getToken() string {
	if token := os.Getenv("THREADSYNC_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "threadsync", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "chat":
		err = runChat(ctx, args)
	case "threads":
		err = runThreads(ctx, args)
	case "show":
		err = runShow(ctx, args)
	case "delete":
		err = runDelete(ctx, args)
	case "export":
		err = runExport(ctx, args)
	case "whoami":
		err = runWhoami(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: threadsync <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  chat [thread-id]              Chat on a thread (new thread if omitted)")
	fmt.Println("  threads [--user ID] [--limit N]  List threads")
	fmt.Println("  show <thread-id>              Print a thread's messages")
	fmt.Println("  delete <thread-id>...         Delete one or more threads")
	fmt.Println("  export [--format md|html] [--out FILE] <thread-id>")
	fmt.Println("                                Export a thread transcript")
	fmt.Println("  whoami                        Show the signed-in identity")
	fmt.Println("  version                       Print the version")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  THREADSYNC_TOKEN              Session token (or ~/.config/threadsync/token)")
	fmt.Println("  THREADSYNC_CONFIG             Config file path")
	fmt.Println("  THREADSYNC_CONVERSATION_URL   Conversation service URL")
	fmt.Println("  THREADSYNC_REGISTRY_URL       Thread registry URL (enables the registry)")
	fmt.Println()
}
