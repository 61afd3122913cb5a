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
	"strconv"
	"strings"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "peers":
		getCmd("peers", "/admin/v1/peers", args)
	case "stats":
		getCmd("stats", "/admin/v1/stats", args)
	case "transfers":
		transfersCmd(args)
	case "command":
		commandCmd(args)
	case "event":
		eventCmd(args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: admin <peers|stats|transfers|command|event> [flags]")
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func commonFlags(fs *flag.FlagSet) func() client {
	baseURL := fs.String("url", "http://127.0.0.1:8080", "relay base url")
	token := fs.String("token", os.Getenv("CARAVAN_ADMIN_TOKEN"), "admin bearer token (or set CARAVAN_ADMIN_TOKEN)")
	return func() client {
		return client{
			base:  strings.TrimRight(strings.TrimSpace(*baseURL), "/"),
			token: strings.TrimSpace(*token),
			http:  &http.Client{Timeout: 5 * time.Second},
		}
	}
}

func (c client) do(method, path string, body any) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode:", err)
			os.Exit(1)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func getCmd(name, path string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cl := commonFlags(fs)
	_ = fs.Parse(args)
	cl().do(http.MethodGet, path, nil)
}

func transfersCmd(args []string) {
	fs := flag.NewFlagSet("transfers", flag.ExitOnError)
	cl := commonFlags(fs)
	limit := fs.Int("limit", 50, "most recent rows to list")
	id := fs.String("id", "", "show every step of one transfer")
	_ = fs.Parse(args)

	q := url.Values{}
	if strings.TrimSpace(*id) != "" {
		q.Set("id", strings.TrimSpace(*id))
	} else {
		q.Set("limit", strconv.Itoa(*limit))
	}
	cl().do(http.MethodGet, "/admin/v1/transfers?"+q.Encode(), nil)
}

func commandCmd(args []string) {
	fs := flag.NewFlagSet("command", flag.ExitOnError)
	cl := commonFlags(fs)
	name := fs.String("name", "", "op|deop|ban|disconnect|quit|broadcast|forcesave")
	target := fs.String("target", "", "player (empty: everyone, for quit/broadcast/forcesave)")
	text := fs.String("text", "", "broadcast text")
	_ = fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "missing -name")
		os.Exit(2)
	}
	cl().do(http.MethodPost, "/admin/v1/commands", map[string]string{
		"command": strings.TrimSpace(*name),
		"target":  strings.TrimSpace(*target),
		"text":    *text,
	})
}

func eventCmd(args []string) {
	fs := flag.NewFlagSet("event", flag.ExitOnError)
	cl := commonFlags(fs)
	kind := fs.String("kind", "", "event kind, e.g. raid")
	location := fs.String("location", "", "target settlement")
	_ = fs.Parse(args)

	if strings.TrimSpace(*kind) == "" || strings.TrimSpace(*location) == "" {
		fmt.Fprintln(os.Stderr, "missing -kind or -location")
		os.Exit(2)
	}
	cl().do(http.MethodPost, "/admin/v1/events", map[string]string{
		"event":    strings.TrimSpace(*kind),
		"location": strings.TrimSpace(*location),
	})
}
