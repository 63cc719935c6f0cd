package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/readone97/Sol-Kart/native/payrequest"
)

const (
	defaultServer   = "http://localhost:8080"
	envServer       = "SOLKART_GATEWAY_URL"
	envToken        = "SOLKART_TOKEN"
	defaultInterval = 2 * time.Second
)

var stdoutIsTerminal = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: payctl <create|verify|receipt> [flags]")
	fmt.Fprintln(w, "  create  [-amount A] [-spl-token SYMBOL] [-memo M] [-message M] [-label L] [-qr]")
	fmt.Fprintln(w, "  verify  -reference R [-wait D] [-interval D]")
	fmt.Fprintln(w, "  receipt -reference R")
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		usage(stdout)
		return errors.New("command required")
	}
	switch args[0] {
	case "create":
		return runCreate(ctx, args[1:], stdout)
	case "verify":
		return runVerify(ctx, args[1:], stdout)
	case "receipt":
		return runReceipt(ctx, args[1:], stdout)
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	default:
		usage(stdout)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func clientFlags(fs *flag.FlagSet) *client {
	c := &client{http: &http.Client{Timeout: 30 * time.Second}}
	server := os.Getenv(envServer)
	if server == "" {
		server = defaultServer
	}
	fs.StringVar(&c.base, "server", server, "payments gateway base URL")
	fs.StringVar(&c.token, "auth-token", os.Getenv(envToken), "bearer token for payment creation")
	return c
}

// do sends a request and decodes a JSON body into out. Non-2xx responses are
// returned as errors carrying the gateway's error message.
func (c *client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.base, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func runCreate(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	c := clientFlags(fs)
	amount := fs.String("amount", "", "amount to request; defaults to the merchant profile")
	token := fs.String("spl-token", "", "SPL token symbol or mint; empty for SOL")
	memo := fs.String("memo", "", "memo attached to the transfer")
	message := fs.String("message", "", "message shown in the wallet")
	label := fs.String("label", "", "merchant label shown in the wallet")
	showQR := fs.Bool("qr", false, "always print the QR code")
	if err := fs.Parse(args); err != nil {
		return err
	}

	payload := map[string]string{}
	for key, value := range map[string]string{"amount": *amount, "splToken": *token, "memo": *memo, "message": *message, "label": *label} {
		if strings.TrimSpace(value) != "" {
			payload[key] = strings.TrimSpace(value)
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var resp struct {
		URL string `json:"url"`
		Ref string `json:"ref"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/pay", body, &resp); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	fmt.Fprintf(stdout, "Reference: %s\nURL:       %s\n", resp.Ref, resp.URL)

	if *showQR || stdoutIsTerminal() {
		u, err := url.Parse(resp.URL)
		if err != nil {
			return fmt.Errorf("parse payment url: %w", err)
		}
		qr, err := payrequest.RenderQRText(u)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, qr)
	}
	return nil
}

func runVerify(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	c := clientFlags(fs)
	reference := fs.String("reference", "", "payment reference to verify")
	wait := fs.Duration("wait", 0, "keep polling until verified or this much time passes (e.g. 2m)")
	interval := fs.Duration("interval", defaultInterval, "polling interval when -wait is set")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := payrequest.ParseReference(*reference)
	if err != nil {
		return fmt.Errorf("-reference: %w", err)
	}
	if *interval <= 0 {
		*interval = defaultInterval
	}
	if *wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *wait)
		defer cancel()
	}

	path := "/api/pay?reference=" + url.QueryEscape(ref.String())
	for {
		var resp struct {
			Status string `json:"status"`
		}
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return fmt.Errorf("verify payment: %w", err)
		}
		if resp.Status == payrequest.StatusVerified.String() || *wait <= 0 {
			fmt.Fprintln(stdout, resp.Status)
			return nil
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(stdout, resp.Status)
			return fmt.Errorf("payment %s not verified within %s", ref, *wait)
		case <-time.After(*interval):
		}
	}
}

func runReceipt(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("receipt", flag.ContinueOnError)
	c := clientFlags(fs)
	reference := fs.String("reference", "", "payment reference")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := payrequest.ParseReference(*reference)
	if err != nil {
		return fmt.Errorf("-reference: %w", err)
	}
	var receipt payrequest.Receipt
	if err := c.do(ctx, http.MethodGet, "/api/receipts/"+ref.String(), nil, &receipt); err != nil {
		return fmt.Errorf("fetch receipt: %w", err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(receipt)
}
