package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/oyalabs/sensei/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "ask":
		cmdAsk(os.Args[2:])
	case "status":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: senseictl status <request_id>")
			os.Exit(1)
		}
		cmdStatus(os.Args[2])
	case "health":
		cmdHealth()
	case "history":
		cmdHistory(os.Args[2:])
	case "system-prompt":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: senseictl system-prompt <get|set>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "get":
			cmdSystemPromptGet()
		case "set":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: senseictl system-prompt set <prompt>")
				os.Exit(1)
			}
			cmdSystemPromptSet(strings.Join(os.Args[3:], " "))
		default:
			fmt.Fprintf(os.Stderr, "unknown system-prompt subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "prices":
		cmdPrices(os.Args[2:])
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: senseictl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- ask: submit a prompt and wait for the result ---

func cmdAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	target := fs.String("target", "chat", "Conversation target: chat or assistant")
	timeout := fs.Duration("timeout", 2*time.Minute, "How long to wait for the result")
	fs.Parse(args)

	prompt := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(prompt) == "" {
		fmt.Fprintln(os.Stderr, "usage: senseictl ask [--target chat|assistant] <prompt>")
		os.Exit(1)
	}

	payload, _ := json.Marshal(map[string]string{"prompt": prompt, "target": *target})
	body, err := apiPost("/api/prompt", payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var accepted struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil || accepted.RequestID == "" {
		fmt.Fprintf(os.Stderr, "error: unexpected response: %s\n", string(body))
		os.Exit(1)
	}

	deadline := time.Now().Add(*timeout)
	for {
		time.Sleep(time.Second)
		if time.Now().After(deadline) {
			fmt.Fprintf(os.Stderr, "timed out; poll later with: senseictl status %s\n", accepted.RequestID)
			os.Exit(1)
		}

		body, err := apiGet("/api/status/" + accepted.RequestID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		var tk struct {
			Status string `json:"status"`
			Error  string `json:"error"`
			Result struct {
				Reply string `json:"reply"`
			} `json:"data"`
		}
		json.Unmarshal(body, &tk)

		switch tk.Status {
		case "completed":
			fmt.Println(tk.Result.Reply)
			return
		case "failed":
			fmt.Fprintf(os.Stderr, "request failed: %s\n", tk.Error)
			os.Exit(1)
		}
	}
}

// --- API client commands ---

func cmdStatus(id string) {
	body, err := apiGet("/api/status/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 50, "Max messages")
	fs.Parse(args)

	body, err := apiGet(fmt.Sprintf("/api/history?limit=%d", *limit))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var msgs []map[string]any
	json.Unmarshal(body, &msgs)
	for _, m := range msgs {
		fmt.Printf("%-10s %s\n", m["role"], m["content"])
	}
}

func cmdSystemPromptGet() {
	body, err := apiGet("/api/system-prompt")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var resp struct {
		Prompt string `json:"prompt"`
	}
	json.Unmarshal(body, &resp)
	fmt.Println(resp.Prompt)
}

func cmdSystemPromptSet(prompt string) {
	payload, _ := json.Marshal(map[string]string{"prompt": prompt})
	if _, err := apiPost("/api/system-prompt", payload); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("system prompt updated")
}

func cmdPrices(args []string) {
	fs := flag.NewFlagSet("prices", flag.ExitOnError)
	ids := fs.String("ids", "", "Comma-separated token ids (default: server config)")
	fs.Parse(args)

	path := "/api/token-prices"
	if *ids != "" {
		path += "?ids=" + url.QueryEscape(*ids)
	}
	body, err := apiGet(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	limit := fs.Int("limit", 100, "Max entries")
	level := fs.String("level", "", "Minimum level (debug|info|warn|error)")
	fs.Parse(args)

	path := fmt.Sprintf("/api/logs?limit=%d", *limit)
	if *level != "" {
		path += "&level=" + *level
	}
	body, err := apiGet(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdConfigValidate(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	return apiDo(http.MethodGet, path, nil)
}

func apiPost(path string, body []byte) ([]byte, error) {
	return apiDo(http.MethodPost, path, body)
}

func apiDo(method, path string, body []byte) ([]byte, error) {
	base := envOr("SENSEI_API_URL", "http://localhost:8080")

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Session-Address", envOr("SENSEI_ADDRESS", "cli"))
	if key := os.Getenv("SENSEI_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("senseictl - sensei daemon CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  ask <prompt>          Submit a prompt and wait for the reply (--target, --timeout)")
	fmt.Println("  status <id>           Show a request ticket")
	fmt.Println("  health                Check daemon health")
	fmt.Println("  history               Show conversation history (--limit)")
	fmt.Println("  system-prompt get     Show the system prompt")
	fmt.Println("  system-prompt set <p> Replace the system prompt")
	fmt.Println("  prices                Show token prices (--ids)")
	fmt.Println("  logs                  Show recent daemon logs (--limit, --level)")
	fmt.Println("  config validate <p>   Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  SENSEI_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  SENSEI_ADDRESS   Session address (default: cli)")
	fmt.Println("  SENSEI_API_KEY   API key for /api/logs")
}
