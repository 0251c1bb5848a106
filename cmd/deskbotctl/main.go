package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/deskbot-io/deskbot/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: deskbotctl tickets <list|show|history|close|reopen>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			cmdTicketsShow(requireArg(3, "deskbotctl tickets show <id>"))
		case "history":
			cmdTicketsHistory(requireArg(3, "deskbotctl tickets history <id>"))
		case "close":
			cmdTicketsClose(os.Args[3:])
		case "reopen":
			cmdTicketsReopen(requireArg(3, "deskbotctl tickets reopen <id>"))
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "feedback":
		if len(os.Args) >= 3 && os.Args[2] == "digest" {
			cmdFeedbackDigest(os.Args[3:])
		} else {
			cmdFeedbackList(os.Args[2:])
		}
	case "blacklist":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: deskbotctl blacklist <list|block|unblock>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdBlacklistList()
		case "block":
			cmdBlacklistChange("/api/blacklist/block", requireArg(3, "deskbotctl blacklist block <user_key>"))
		case "unblock":
			cmdBlacklistChange("/api/blacklist/unblock", requireArg(3, "deskbotctl blacklist unblock <user_key>"))
		default:
			fmt.Fprintf(os.Stderr, "unknown blacklist subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "unblock-requests":
		if len(os.Args) >= 3 && os.Args[2] == "decide" {
			cmdDecide(os.Args[3:])
		} else {
			cmdUnblockRequestsList(os.Args[2:])
		}
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: deskbotctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- Tickets ---

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (open|closed)")
	user := fs.String("user", "", "Filter by user key (platform:id)")
	channel := fs.String("channel", "", "Filter by channel")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *status != "" {
		query += "&status=" + *status
	}
	if *user != "" {
		query += "&user=" + *user
	}
	if *channel != "" {
		query += "&channel=" + *channel
	}

	body := mustGet("/api/tickets" + query)
	var tickets []map[string]any
	json.Unmarshal(body, &tickets)
	for _, t := range tickets {
		fmt.Printf("#%-6v %-8s %-24s %s\n", t["ref"], t["status"], t["user_key"], t["summary"])
	}
}

func cmdTicketsShow(id string) {
	fmt.Println(prettyJSON(mustGet("/api/tickets/" + id)))
}

func cmdTicketsHistory(id string) {
	body := mustGet("/api/tickets/" + id + "/history")
	var events []map[string]any
	json.Unmarshal(body, &events)
	for _, e := range events {
		fmt.Printf("%-25v %-8s %s\n", e["created_at"], e["kind"], e["body"])
	}
}

func cmdTicketsClose(args []string) {
	fs := flag.NewFlagSet("tickets close", flag.ExitOnError)
	by := fs.String("by", envOr("USER", "operator"), "Operator name recorded on the ticket")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: deskbotctl tickets close [--by name] <id>")
		os.Exit(1)
	}

	body := mustPost("/api/tickets/"+fs.Arg(0)+"/close", map[string]any{"resolved_by": *by})
	fmt.Println(prettyJSON(body))
}

func cmdTicketsReopen(id string) {
	fmt.Println(prettyJSON(mustPost("/api/tickets/"+id+"/reopen", map[string]any{})))
}

// --- Feedback ---

func cmdFeedbackList(args []string) {
	fs := flag.NewFlagSet("feedback", flag.ExitOnError)
	since := fs.String("since", "", "Only ratings at or after this RFC3339 time")
	fs.Parse(args)

	path := "/api/feedback"
	if *since != "" {
		path += "?since=" + *since
	}
	body := mustGet(path)
	var list []map[string]any
	json.Unmarshal(body, &list)
	for _, f := range list {
		fmt.Printf("%-25v %-24s ticket=%v rating=%v\n", f["created_at"], f["user_key"], f["ticket_id"], f["rating"])
	}
}

func cmdFeedbackDigest(args []string) {
	fs := flag.NewFlagSet("feedback digest", flag.ExitOnError)
	window := fs.String("window", "24h", "Aggregation window (Go duration)")
	fs.Parse(args)

	fmt.Println(prettyJSON(mustGet("/api/feedback/digest?window=" + *window)))
}

// --- Blacklist ---

func cmdBlacklistList() {
	body := mustGet("/api/blacklist")
	var list []map[string]any
	json.Unmarshal(body, &list)
	for _, e := range list {
		fmt.Printf("%-24s blacklisted=%v unblock_requested=%v\n", e["user_key"], e["blacklisted"], e["unblock_requested"])
	}
}

func cmdBlacklistChange(path, userKey string) {
	fmt.Println(prettyJSON(mustPost(path, map[string]any{"user_key": userKey})))
}

func cmdUnblockRequestsList(args []string) {
	fs := flag.NewFlagSet("unblock-requests", flag.ExitOnError)
	status := fs.String("status", "pending", "Filter by status (pending|approved|rejected, empty for all)")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *status != "" {
		query += "&status=" + *status
	}
	body := mustGet("/api/unblock-requests" + query)
	var list []map[string]any
	json.Unmarshal(body, &list)
	for _, r := range list {
		fmt.Printf("%-36v %-24s %-9s %s\n", r["id"], r["user_key"], r["status"], r["reason"])
	}
}

func cmdDecide(args []string) {
	fs := flag.NewFlagSet("unblock-requests decide", flag.ExitOnError)
	approve := fs.Bool("approve", false, "Approve the request (default is reject)")
	by := fs.String("by", envOr("USER", "operator"), "Operator name recorded on the decision")
	comment := fs.String("comment", "", "Optional decision comment")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: deskbotctl unblock-requests decide [--approve] [--comment text] <id>")
		os.Exit(1)
	}

	body := mustPost("/api/unblock-requests/"+fs.Arg(0)+"/decide", map[string]any{
		"approve":    *approve,
		"decided_by": *by,
		"comment":    *comment,
	})
	fmt.Println(prettyJSON(body))
}

// --- Logs / config ---

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Min level (info|warn|error)")
	limit := fs.Int("limit", 100, "Max entries")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *level != "" {
		query += "&level=" + *level
	}
	body := mustGet("/api/logs" + query)
	var entries []map[string]any
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%-25v %-6s %s\n", e["time"], e["level"], e["message"])
	}
}

func cmdConfigValidate(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func cmdHealth() {
	fmt.Println(string(mustGet("/api/health")))
}

func requireArg(i int, usage string) string {
	if len(os.Args) <= i {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
	return os.Args[i]
}

func mustGet(path string) []byte {
	body, err := request(http.MethodGet, path, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return body
}

func mustPost(path string, payload map[string]any) []byte {
	body, err := request(http.MethodPost, path, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return body
}

func request(method, path string, payload map[string]any) ([]byte, error) {
	base := envOr("DESKBOT_API_URL", "http://localhost:8080")

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, base+path, reqBody)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("DESKBOT_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
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
	fmt.Println("deskbotctl — support bot management CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                        Check daemon health")
	fmt.Println("  tickets list                  List tickets (--status, --user, --channel, --limit)")
	fmt.Println("  tickets show <id>             Show ticket details")
	fmt.Println("  tickets history <id>          Show ticket chat history")
	fmt.Println("  tickets close [--by] <id>     Close a ticket")
	fmt.Println("  tickets reopen <id>           Reopen a closed ticket")
	fmt.Println("  feedback                      List recorded ratings (--since)")
	fmt.Println("  feedback digest               Show rating summary (--window)")
	fmt.Println("  blacklist list                List blacklist entries")
	fmt.Println("  blacklist block <user_key>    Block a user")
	fmt.Println("  blacklist unblock <user_key>  Unblock a user")
	fmt.Println("  unblock-requests              List unblock requests (--status, --limit)")
	fmt.Println("  unblock-requests decide <id>  Decide a request (--approve, --by, --comment)")
	fmt.Println("  logs                          Tail daemon logs (--level, --limit)")
	fmt.Println("  config validate <path>        Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  DESKBOT_API_URL  Daemon URL (default: http://localhost:8080)")
	fmt.Println("  DESKBOT_API_KEY  API key for authentication")
}
