// Package main provides an interactive CLI client for the chat agent service.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	serverAddr string
	agentID    string
)

var rootCmd = &cobra.Command{
	Use:   "chatd-cli",
	Short: "Talk to a chatd agent",
	Long: `Talk to a chatd agent over WebSocket (chat) or the HTTP API (send, clear).

In chat mode the following commands are available:
  /note <text>      save a note
  /notes            list notes
  /history          show the conversation history
  /clear            clear the conversation history
  /research <query> search the web and summarize
  /researched       list past research
  /quit             exit`,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive WebSocket session",
	RunE:  runChat,
}

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message over HTTP and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the conversation history over HTTP",
	RunE:  runClear,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:8090", "server base URL")
	rootCmd.PersistentFlags().StringVar(&agentID, "agent", "default", "agent identifier")
	rootCmd.AddCommand(chatCmd, sendCmd, clearCmd)
}

func main() {
	log.SetFlags(log.Ltime)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// wsURL turns the server base URL into the agent's WebSocket URL.
func wsURL(base, agent string) string {
	base = strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/agents/" + agent + "/ws"
}

// parseInput turns a line typed by the user into a frame. quit is true for /quit.
func parseInput(line string) (frame map[string]string, quit bool, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return map[string]string{"type": "chat", "message": line}, false, nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit":
		return nil, true, nil
	case "/note":
		if arg == "" {
			return nil, false, fmt.Errorf("usage: /note <text>")
		}
		return map[string]string{"type": "save_note", "note": arg}, false, nil
	case "/notes":
		return map[string]string{"type": "get_notes"}, false, nil
	case "/history":
		return map[string]string{"type": "get_history"}, false, nil
	case "/clear":
		return map[string]string{"type": "clear_history"}, false, nil
	case "/research":
		if arg == "" {
			return nil, false, fmt.Errorf("usage: /research <query>")
		}
		return map[string]string{"type": "research", "query": arg}, false, nil
	case "/researched":
		return map[string]string{"type": "get_research"}, false, nil
	default:
		return nil, false, fmt.Errorf("unknown command %s", cmd)
	}
}

// render formats a server frame for the terminal.
func render(data []byte) string {
	var f struct {
		Type    string            `json:"type"`
		Message string            `json:"message"`
		Code    string            `json:"code"`
		Summary string            `json:"summary"`
		Notes   []json.RawMessage `json:"notes"`
		History []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"history"`
		Results []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return string(data)
	}

	switch f.Type {
	case "status":
		return "… " + f.Message
	case "chat_response":
		return "agent: " + f.Message
	case "error":
		return fmt.Sprintf("error [%s]: %s", f.Code, f.Message)
	case "search_results", "research_response":
		var b strings.Builder
		b.WriteString("sources:")
		for i, r := range f.Results {
			fmt.Fprintf(&b, "\n  [%d] %s <%s>", i+1, r.Title, r.URL)
		}
		if f.Summary != "" {
			b.WriteString("\n" + f.Summary)
		}
		return b.String()
	case "history_response":
		if len(f.History) == 0 {
			return "(no history)"
		}
		var b strings.Builder
		for _, m := range f.History {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		return strings.TrimSuffix(b.String(), "\n")
	default:
		var pretty map[string]interface{}
		_ = json.Unmarshal(data, &pretty)
		formatted, _ := json.MarshalIndent(pretty, "", "  ")
		return fmt.Sprintf("[%s]\n%s", f.Type, formatted)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	addr := wsURL(serverAddr, agentID)
	fmt.Printf("Connecting to %s...\n", addr)

	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}
			fmt.Printf("\n%s\n> ", render(data))
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		frame, quit, err := parseInput(line)
		if quit {
			fmt.Println("Bye!")
			return nil
		}
		if err != nil {
			fmt.Println(err)
			fmt.Print("> ")
			continue
		}
		if err := conn.WriteJSON(frame); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		select {
		case <-done:
			return nil
		default:
		}
	}
	return scanner.Err()
}

func runSend(cmd *cobra.Command, args []string) error {
	var out struct {
		Success      bool   `json:"success"`
		Response     string `json:"response"`
		Error        string `json:"error"`
		MessageCount int    `json:"messageCount"`
	}
	resp, err := resty.New().R().
		SetBody(map[string]string{"content": strings.Join(args, " ")}).
		SetResult(&out).
		SetError(&out).
		Post(strings.TrimSuffix(serverAddr, "/") + "/agents/" + agentID + "/message")
	if err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("request failed [%d]: %s", resp.StatusCode(), out.Error)
	}
	fmt.Println(out.Response)
	fmt.Printf("(%d messages stored)\n", out.MessageCount)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	resp, err := resty.New().R().
		SetResult(&out).
		SetError(&out).
		Post(strings.TrimSuffix(serverAddr, "/") + "/agents/" + agentID + "/clear")
	if err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("request failed [%d]: %s", resp.StatusCode(), out.Error)
	}
	fmt.Println("History cleared.")
	return nil
}
