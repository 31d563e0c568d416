package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/afklabs/afk/internal/config"
	"github.com/afklabs/afk/internal/session"
	"github.com/afklabs/afk/internal/surface"
	"github.com/afklabs/afk/pkg/logger"
)

func main() {
	serverURL := flag.String("server", "", "Gateway base URL (http:// or https://); overrides the config file")
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	log, err := logger.New(logger.Config{
		Level:  *logLevel,
		Format: "console",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	clientCfg := surface.Config{OnUpdate: render}

	// The config file is optional for the surface; flags win over it
	if fileCfg, err := config.LoadWithFallback(*configPath); err == nil && fileCfg.Validate() == nil {
		clientCfg = fromFileConfig(fileCfg.Surface)
		clientCfg.OnUpdate = render
	}

	base := *serverURL
	if base == "" && clientCfg.URL != "" {
		base = clientCfg.URL
	}
	if base == "" {
		base = "http://localhost:8000"
	}
	wsURL, err := surfaceURL(base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid server URL: %v\n", err)
		os.Exit(1)
	}
	clientCfg.URL = wsURL

	client, err := surface.NewClient(clientCfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating client: %v\n", err)
		os.Exit(1)
	}
	client.Start()
	defer client.Stop()

	fmt.Printf("Connecting to %s\n", wsURL)
	fmt.Println("Commands: ls | o <n> | b | r <n> <response> | d <n> | q")

	go readCommands(client)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

// fromFileConfig maps the [surface] config section onto client tunables.
// Zero values fall through to the client's own defaults.
func fromFileConfig(sc config.SurfaceConfig) surface.Config {
	return surface.Config{
		URL:                   sc.URL,
		KeepaliveInterval:     time.Duration(sc.KeepaliveSeconds) * time.Second,
		ReconnectInitialDelay: time.Duration(sc.ReconnectInitialMs) * time.Millisecond,
		ReconnectMaxDelay:     time.Duration(sc.ReconnectMaxMs) * time.Millisecond,
		ReconnectMultiplier:   sc.ReconnectMultiplier,
		ReconnectJitter:       sc.ReconnectJitter,
		RespondUnlockDelay:    time.Duration(sc.RespondUnlockMs) * time.Millisecond,
		ActionTimeout:         time.Duration(sc.ActionTimeoutSeconds) * time.Second,
		HandshakeTimeout:      time.Duration(sc.HandshakeTimeoutSecs) * time.Second,
	}
}

// surfaceURL converts a gateway base URL into the control-surface websocket
// endpoint: http becomes ws, https becomes wss.
func surfaceURL(base string) (string, error) {
	trimmed := strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(trimmed, "https://"):
		return "wss://" + strings.TrimPrefix(trimmed, "https://") + "/ws/ui", nil
	case strings.HasPrefix(trimmed, "http://"):
		return "ws://" + strings.TrimPrefix(trimmed, "http://") + "/ws/ui", nil
	case strings.HasPrefix(trimmed, "ws://"), strings.HasPrefix(trimmed, "wss://"):
		return trimmed, nil
	default:
		return "", fmt.Errorf("expected http://, https://, ws://, or wss:// scheme: %s", base)
	}
}

// render prints the current view whenever the connection state or session
// list changes
func render(v surface.View) {
	fmt.Printf("\n[%s] %d waiting session(s)", v.State, len(v.Sessions))
	if v.LastError != "" {
		fmt.Printf("  (server: %s)", v.LastError)
	}
	fmt.Println()
	for i, s := range v.Sessions {
		marker := " "
		if s.ID == v.SendingID {
			marker = "*"
		}
		fmt.Printf("%s %2d. [%s] %s/%s: %s\n", marker, i+1, s.Status, s.MachineName, s.ProjectName, s.Notification)
	}
	fmt.Print("> ")
}

// readCommands drives the client from stdin
func readCommands(client *surface.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)

		switch fields[0] {
		case "q", "quit", "exit":
			client.Stop()
			os.Exit(0)

		case "ls":
			render(client.View())

		case "o", "open":
			if len(fields) < 2 {
				fmt.Println("usage: o <n>")
				continue
			}
			id, ok := sessionAt(client, fields[1])
			if !ok {
				continue
			}
			client.Focus(id)
			if s, ok := detail(client, id); ok {
				fmt.Printf("%s/%s (%s)\n%s\n", s.MachineName, s.ProjectName, s.WorkingDir, s.Notification)
				if s.ContextTail != "" {
					fmt.Printf("---\n%s\n", s.ContextTail)
				}
			}

		case "b", "back":
			client.Blur()

		case "r", "respond":
			if len(fields) < 3 {
				fmt.Println("usage: r <n> <response>")
				continue
			}
			id, ok := sessionAt(client, fields[1])
			if !ok {
				continue
			}
			client.Respond(id, fields[2])

		case "d", "dismiss":
			if len(fields) < 2 {
				fmt.Println("usage: d <n>")
				continue
			}
			id, ok := sessionAt(client, fields[1])
			if !ok {
				continue
			}
			client.Dismiss(id)

		default:
			fmt.Println("Commands: ls | o <n> | b | r <n> <response> | d <n> | q")
		}
	}
}

// detail looks a session up in the last rendered view
func detail(client *surface.Client, id string) (session.Session, bool) {
	for _, s := range client.Sessions() {
		if s.ID == id {
			return s, true
		}
	}
	return session.Session{}, false
}

// sessionAt resolves a 1-based list index from the last rendered view
func sessionAt(client *surface.Client, arg string) (string, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Printf("not a session number: %s\n", arg)
		return "", false
	}
	sessions := client.Sessions()
	if n < 1 || n > len(sessions) {
		fmt.Printf("no session %d (have %d)\n", n, len(sessions))
		return "", false
	}
	return sessions[n-1].ID, true
}
