package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"main/internal/api"
	"main/internal/ops"
	"main/internal/store"
	"main/pkg/kv"
	"main/pkg/realtime"

	"github.com/yanun0323/logs"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	endpoint := flag.String("endpoint", "", "WebSocket endpoint (overrides config)")
	baseURL := flag.String("api", "", "REST base URL (overrides config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *endpoint != "" {
		loaded.Client.Endpoint = *endpoint
	}
	if *baseURL != "" {
		loaded.API.BaseURL = *baseURL
	}

	db, err := kv.OpenSQLite(loaded.Storage.Path)
	if err != nil {
		log.Fatalf("storage open failed: %v", err)
	}
	defer db.Close()

	settings, err := store.NewSettings(ctx, db)
	if err != nil {
		log.Fatalf("settings init failed: %v", err)
	}

	client := api.New(api.Option{
		BaseURL:           loaded.API.BaseURL,
		Timeout:           time.Duration(loaded.API.TimeoutSeconds) * time.Second,
		RequestsPerSecond: float64(loaded.API.RequestsPerSecond),
	})
	conv, err := client.CreateConversation(ctx, "scout session", settings.Get().Model)
	if err != nil {
		log.Fatalf("create conversation failed: %v", err)
	}

	manager := realtime.New(loaded.Client)
	defer manager.Disconnect()
	subscribeOutput(manager)
	manager.Connect()

	fmt.Println("commands: /search <query>, /run <command>, /engine <name>, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(ctx, manager, settings, conv.ID, line) {
				return
			}
		}
	}
}

func subscribeOutput(manager *realtime.Manager) {
	manager.Subscribe(realtime.EventConnected, func(msg realtime.Message) {
		var data realtime.ConnectedData
		if msg.Decode(&data) == nil && data.ConnectionID != "" {
			fmt.Printf("connected as %s\n", data.ConnectionID)
		}
	})
	manager.Subscribe(realtime.EventDisconnected, func(msg realtime.Message) {
		var data realtime.DisconnectedData
		if msg.Decode(&data) == nil {
			fmt.Printf("disconnected: code %d, %s\n", data.Code, data.Reason)
		}
	})
	manager.Subscribe(realtime.EventChatStream, func(msg realtime.Message) {
		var data realtime.ChatTextData
		if msg.Decode(&data) == nil {
			fmt.Print(data.Text)
		}
	})
	manager.Subscribe(realtime.EventChatResponse, func(msg realtime.Message) {
		fmt.Println()
	})
	manager.Subscribe(realtime.EventToolResponse, func(msg realtime.Message) {
		var data realtime.ToolResponseData
		if msg.Decode(&data) == nil {
			fmt.Printf("search results: %s\n", data.Results)
		}
	})
	manager.Subscribe(realtime.EventCommandOutput, func(msg realtime.Message) {
		var data realtime.CommandOutputData
		if msg.Decode(&data) == nil {
			fmt.Println(data.Output)
		}
	})
	manager.Subscribe(realtime.EventCommandComplete, func(msg realtime.Message) {
		var data realtime.CommandCompleteData
		if msg.Decode(&data) == nil {
			fmt.Printf("exit code %d\n", data.ExitCode)
		}
	})
	manager.Subscribe(realtime.EventError, func(msg realtime.Message) {
		var data realtime.ErrorData
		if msg.Decode(&data) == nil {
			fmt.Printf("server error: %s\n", data.Message)
		}
	})
}

func handleLine(ctx context.Context, manager *realtime.Manager, settings *store.SettingsStore, conversationID, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return true
	case line == "/quit":
		return false
	case strings.HasPrefix(line, "/engine "):
		name := strings.TrimSpace(strings.TrimPrefix(line, "/engine "))
		if _, err := settings.Update(ctx, func(s *store.Settings) { s.SearchEngine = name }); err != nil {
			logs.Errorf("save engine: %v", err)
		}
		fmt.Printf("search engine set to %s\n", name)
	case strings.HasPrefix(line, "/search "):
		manager.Send(realtime.EventToolCall, realtime.ToolCallData{
			Tool:   "search",
			Engine: settings.Get().SearchEngine,
			Query:  strings.TrimSpace(strings.TrimPrefix(line, "/search ")),
		})
	case strings.HasPrefix(line, "/run "):
		manager.Send(realtime.EventExecuteCommand, map[string]string{
			"command": strings.TrimSpace(strings.TrimPrefix(line, "/run ")),
		})
	default:
		manager.Send(realtime.EventChatMessage, map[string]string{
			"text":           line,
			"conversationId": conversationID,
		})
	}
	return true
}
