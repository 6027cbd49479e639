// ABOUTME: Terminal client for the postbox HTTP API
// ABOUTME: Renders threads, messages, contacts, and audit events for terminal display

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
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
)

// profile is the CLI configuration, stored as TOML.
type profile struct {
	Server string `toml:"server"`
	Token  string `toml:"token"`
	Handle string `toml:"handle"`
}

// profilePath returns the path to the CLI profile file.
// Priority: POSTBOX_PROFILE env var > XDG_CONFIG_HOME/postbox/profile.toml > ~/.config/postbox/profile.toml
func profilePath() string {
	if envPath := os.Getenv("POSTBOX_PROFILE"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "profile.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "postbox", "profile.toml")
}

func loadProfile() (*profile, error) {
	p := &profile{Server: "http://localhost:8484"}
	path := profilePath()
	if _, err := os.Stat(path); err != nil {
		return p, nil
	}
	if _, err := toml.DecodeFile(path, p); err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}
	if env := os.Getenv("POSTBOX_TOKEN"); env != "" {
		p.Token = env
	}
	return p, nil
}

// saveProfile writes the profile back to disk with owner-only permissions,
// since it holds the session token.
func saveProfile(p *profile) error {
	path := profilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("writing profile %s: %w", path, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(p)
}

func printUsage() {
	fmt.Println("Usage: postbox-cli <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  login <credential>                              Exchange a credential for a session token")
	fmt.Println("  logout                                          Invalidate the current session token")
	fmt.Println("  send --to a,b --subject S [--tags t1,t2] BODY   Start a new thread")
	fmt.Println("  threads                                         List visible threads")
	fmt.Println("  thread <thread-id>                              Show a thread and its messages")
	fmt.Println("  reply <message-id> BODY                         Reply to a message")
	fmt.Println("  reply-thread <thread-id> BODY                   Reply to a thread's latest message")
	fmt.Println("  search <query> [--from h] [--to h]              Search visible messages")
	fmt.Println("  contacts [--q query] [--tags t1,t2]             List or search the address book")
	fmt.Println("  contact-add <handle> [--name N] [--desc D]      Add an address book entry")
	fmt.Println("  archive <thread-id>                             Archive a thread")
	fmt.Println("  audit [--target h] [--type t]                   List audit events, newest first")
	fmt.Println("  health                                          Check server health")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	prof, err := loadProfile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	c := &client{profile: prof, http: &http.Client{Timeout: 30 * time.Second}}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "login":
		err = c.cmdLogin(args)
	case "logout":
		err = c.cmdLogout()
	case "send":
		err = c.cmdSend(args)
	case "threads":
		err = c.cmdThreads()
	case "thread":
		err = c.cmdThread(args)
	case "reply":
		err = c.cmdReply(args)
	case "reply-thread":
		err = c.cmdReplyThread(args)
	case "search":
		err = c.cmdSearch(args)
	case "contacts":
		err = c.cmdContacts(args)
	case "contact-add":
		err = c.cmdContactAdd(args)
	case "archive":
		err = c.cmdArchive(args)
	case "audit":
		err = c.cmdAudit(args)
	case "health":
		err = c.cmdHealth()
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	profile *profile
	http    *http.Client
}

func (c *client) do(method, path string, query url.Values, body any) ([]byte, error) {
	u := strings.TrimSuffix(c.profile.Server, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.profile.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.profile.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s (HTTP %d)", e.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return data, nil
}

type messageView struct {
	MessageID string   `json:"message_id"`
	ThreadID  string   `json:"thread_id"`
	From      string   `json:"from"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	InReplyTo string   `json:"in_reply_to"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at"`
}

type threadView struct {
	ThreadID     string            `json:"thread_id"`
	Subject      string            `json:"subject"`
	Participants []string          `json:"participants"`
	Metadata     map[string]string `json:"metadata"`
	LastActivity string            `json:"last_activity_at"`
}

func (c *client) cmdSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.String("to", "", "comma-separated recipient handles")
	subject := fs.String("subject", "", "thread subject")
	tags := fs.String("tags", "", "comma-separated tags")
	_ = fs.Parse(args)
	if *to == "" || *subject == "" || fs.NArg() < 1 {
		return fmt.Errorf("send requires --to, --subject, and a body")
	}

	data, err := c.do("POST", "/v1/threads", nil, map[string]any{
		"to":      splitList(*to),
		"subject": *subject,
		"body":    strings.Join(fs.Args(), " "),
		"tags":    splitList(*tags),
	})
	if err != nil {
		return err
	}
	var msg messageView
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	color.Green("sent message %s in thread %s", msg.MessageID, msg.ThreadID)
	return nil
}

func (c *client) cmdThreads() error {
	data, err := c.do("GET", "/v1/threads", nil, nil)
	if err != nil {
		return err
	}
	var threads []threadView
	if err := json.Unmarshal(data, &threads); err != nil {
		return err
	}
	if len(threads) == 0 {
		fmt.Println("no threads")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "THREAD\tSUBJECT\tPARTICIPANTS\tLAST ACTIVITY")
	for _, t := range threads {
		subject := t.Subject
		if t.Metadata["archived"] == "true" {
			subject += " " + color.YellowString("[archived]")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ThreadID, subject, strings.Join(t.Participants, ","), t.LastActivity)
	}
	return w.Flush()
}

func (c *client) cmdThread(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("thread requires a thread id")
	}
	data, err := c.do("GET", "/v1/threads/"+args[0]+"/messages", nil, nil)
	if err != nil {
		return err
	}
	var msgs []messageView
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	for _, m := range msgs {
		printMessage(m)
	}
	return nil
}

func printMessage(m messageView) {
	header := color.New(color.FgCyan, color.Bold)
	header.Printf("%s  %s -> %s\n", m.CreatedAt, m.From, strings.Join(m.To, ","))
	if m.InReplyTo != "" {
		color.HiBlack("  in reply to %s", m.InReplyTo)
	}
	fmt.Printf("  %s\n", m.Subject)
	fmt.Printf("  %s\n", m.Body)
	if len(m.Tags) > 0 {
		color.HiBlack("  tags: %s", strings.Join(m.Tags, ","))
	}
	fmt.Println()
}

func (c *client) cmdReply(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("reply requires a message id and a body")
	}
	data, err := c.do("POST", "/v1/messages/"+args[0]+"/replies", nil, map[string]any{
		"body": strings.Join(args[1:], " "),
	})
	if err != nil {
		return err
	}
	var msg messageView
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	color.Green("replied with %s", msg.MessageID)
	return nil
}

func (c *client) cmdReplyThread(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("reply-thread requires a thread id and a body")
	}
	data, err := c.do("POST", "/v1/threads/"+args[0]+"/replies", nil, map[string]any{
		"body": strings.Join(args[1:], " "),
	})
	if err != nil {
		return err
	}
	var msg messageView
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	color.Green("replied with %s", msg.MessageID)
	return nil
}

func (c *client) cmdSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	from := fs.String("from", "", "exact sender handle")
	to := fs.String("to", "", "exact recipient handle")
	limit := fs.Int("limit", 50, "max results")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("search requires a query")
	}

	q := url.Values{}
	q.Set("q", fs.Arg(0))
	q.Set("limit", strconv.Itoa(*limit))
	if *from != "" {
		q.Set("from", *from)
	}
	if *to != "" {
		q.Set("to", *to)
	}

	data, err := c.do("GET", "/v1/messages/search", q, nil)
	if err != nil {
		return err
	}
	var msgs []messageView
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, m := range msgs {
		printMessage(m)
	}
	return nil
}

func (c *client) cmdContacts(args []string) error {
	fs := flag.NewFlagSet("contacts", flag.ExitOnError)
	query := fs.String("q", "", "substring query")
	tags := fs.String("tags", "", "comma-separated tags")
	activeOnly := fs.Bool("active", false, "active entries only")
	_ = fs.Parse(args)

	q := url.Values{}
	if *query != "" {
		q.Set("q", *query)
	}
	if *tags != "" {
		q.Set("tags", *tags)
	}
	if *activeOnly {
		q.Set("active_only", "true")
	}

	data, err := c.do("GET", "/v1/contacts", q, nil)
	if err != nil {
		return err
	}
	var entries []struct {
		Handle      string   `json:"handle"`
		DisplayName string   `json:"display_name"`
		Tags        []string `json:"tags"`
		IsActive    bool     `json:"is_active"`
		Version     int64    `json:"version"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tNAME\tTAGS\tACTIVE\tVERSION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\n", e.Handle, e.DisplayName, strings.Join(e.Tags, ","), e.IsActive, e.Version)
	}
	return w.Flush()
}

func (c *client) cmdContactAdd(args []string) error {
	fs := flag.NewFlagSet("contact-add", flag.ExitOnError)
	name := fs.String("name", "", "display name")
	desc := fs.String("desc", "", "description")
	tags := fs.String("tags", "", "comma-separated tags")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("contact-add requires a handle")
	}

	_, err := c.do("POST", "/v1/contacts", nil, map[string]any{
		"handle":       fs.Arg(0),
		"display_name": *name,
		"description":  *desc,
		"tags":         splitList(*tags),
	})
	if err != nil {
		return err
	}
	color.Green("added %s", fs.Arg(0))
	return nil
}

func (c *client) cmdLogin(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("login requires a credential")
	}

	data, err := c.do("POST", "/v1/sessions", nil, map[string]string{"credential": args[0]})
	if err != nil {
		return err
	}
	var sess struct {
		Token     string `json:"token"`
		Handle    string `json:"handle"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := json.Unmarshal(data, &sess); err != nil {
		return err
	}

	c.profile.Token = sess.Token
	c.profile.Handle = sess.Handle
	if err := saveProfile(c.profile); err != nil {
		return err
	}
	color.Green("logged in as %s (session expires %s)", sess.Handle, sess.ExpiresAt)
	return nil
}

func (c *client) cmdLogout() error {
	if c.profile.Token == "" {
		return fmt.Errorf("no session token in profile")
	}
	if _, err := c.do("DELETE", "/v1/sessions", nil, nil); err != nil {
		return err
	}

	c.profile.Token = ""
	if err := saveProfile(c.profile); err != nil {
		return err
	}
	color.Green("logged out")
	return nil
}

func (c *client) cmdArchive(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("archive requires a thread id")
	}
	if _, err := c.do("POST", "/v1/threads/"+args[0]+"/archive", nil, nil); err != nil {
		return err
	}
	color.Green("archived %s", args[0])
	return nil
}

func (c *client) cmdAudit(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	target := fs.String("target", "", "target handle")
	eventType := fs.String("type", "", "event type")
	limit := fs.Int("limit", 50, "max results")
	_ = fs.Parse(args)

	q := url.Values{}
	if *target != "" {
		q.Set("target", *target)
	}
	if *eventType != "" {
		q.Set("type", *eventType)
	}
	q.Set("limit", strconv.Itoa(*limit))

	data, err := c.do("GET", "/v1/audit", q, nil)
	if err != nil {
		return err
	}
	var events []struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Actor     string `json:"actor_handle"`
		Target    string `json:"target_handle"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &events); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tACTOR\tTARGET")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp, e.EventType, e.Actor, e.Target)
	}
	return w.Flush()
}

func (c *client) cmdHealth() error {
	data, err := c.do("GET", "/v1/healthz", nil, nil)
	if err != nil {
		return err
	}
	var h struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	if h.Status == "ok" {
		color.Green("server healthy")
	} else {
		color.Red("server unhealthy: %s", h.Status)
	}
	return nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
