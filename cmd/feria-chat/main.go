// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

// feria-chat is a terminal client for the Feria marketplace chat. It
// renders the conversation directory in a sidebar, the active thread
// with a typing indicator, and a compose box, all kept in sync with
// the backend over the live websocket channel.
//
// Configuration comes from a YAML file (--config, default
// feria-chat.yaml in the working directory) with flags overriding
// individual values. The --conversation flag opens a specific
// conversation directly, the equivalent of following a deep link.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/feria-market/feria-chat/chat"
	"github.com/feria-market/feria-chat/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     string
		serverURL      string
		websocketURL   string
		token          string
		userID         int64
		conversationID int64
		logOutput      string
	)

	flagSet := pflag.NewFlagSet("feria-chat", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: "+defaultConfigPath+")")
	flagSet.StringVar(&serverURL, "server", "", "base URL of the chat REST backend")
	flagSet.StringVar(&websocketURL, "ws", "", "websocket endpoint of the live channel")
	flagSet.StringVar(&token, "token", "", "bearer token for both channels")
	flagSet.Int64Var(&userID, "user", 0, "signed-in user ID")
	flagSet.Int64Var(&conversationID, "conversation", 0, "open this conversation directly")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	path := configPath
	explicit := path != ""
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := loadConfig(path, explicit)
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if websocketURL != "" {
		cfg.WebsocketURL = websocketURL
	}
	if token != "" {
		cfg.Token = token
	}
	if userID != 0 {
		cfg.UserID = userID
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	// Writing log records to stderr would corrupt the alt-screen
	// display; without --log-output, records are discarded.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	if logOutput != "" {
		file, err := os.Create(logOutput)
		if err != nil {
			return fmt.Errorf("cannot open log file %s: %w", logOutput, err)
		}
		defer file.Close()
		logger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	client, err := chat.NewClient(chat.ClientConfig{
		BaseURL: cfg.ServerURL,
		Logger:  logger,
		Tokens:  chat.StaticToken(cfg.Token),
	})
	if err != nil {
		return err
	}

	selfID := chat.UserID(cfg.UserID)
	websocket := transport.NewWebsocket(transport.WebsocketConfig{
		URL:    cfg.WebsocketURL,
		Logger: logger,
	})
	directory := chat.NewDirectory(client, selfID, logger)
	session := chat.NewSession(chat.SessionConfig{
		Client:    client,
		Directory: directory,
		Transport: websocket,
		SelfID:    selfID,
		Logger:    logger,
	})
	dispatcher := chat.NewDispatcher(chat.DispatcherConfig{
		Client:    client,
		Transport: websocket,
		Session:   session,
		SelfID:    selfID,
		Logger:    logger,
	})

	ctx := context.Background()
	websocket.Connect(ctx, cfg.Token)
	defer websocket.Disconnect()
	defer session.Close()

	if conversationID != 0 {
		session.SetTarget(chat.ConversationID(conversationID))
	}

	model := newModel(modelConfig{
		client:     client,
		directory:  directory,
		session:    session,
		dispatcher: dispatcher,
		selfID:     selfID,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Feria chat — terminal client for marketplace conversations.

Reads %s (or --config) for connection settings; flags override
individual values.

Usage:
  feria-chat [flags]

Examples:
  # Open the chat with settings from the config file
  feria-chat

  # Open a specific conversation directly
  feria-chat --conversation 42

  # Point at a development backend
  feria-chat --server http://localhost:3000 --ws ws://localhost:3000/ws --token dev --user 1

Flags:
`, defaultConfigPath)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
