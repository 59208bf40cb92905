// Command mealctl calls the metered proxy from a terminal and prints the
// result together with the caller's monthly token usage.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/router-for-me/MealPlanProxy/internal/actions"
	"github.com/router-for-me/MealPlanProxy/internal/client"
	"github.com/router-for-me/MealPlanProxy/internal/quota"
	log "github.com/sirupsen/logrus"
)

func main() {
	if errRun := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); errRun != nil {
		var callErr *client.Error
		if errors.As(errRun, &callErr) {
			fmt.Fprintln(os.Stderr, callErr.Message)
			if callErr.Detail != "" {
				log.WithField("status", callErr.StatusCode).Debug(callErr.Detail)
			}
		} else {
			fmt.Fprintln(os.Stderr, errRun)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("mealctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	baseURL := fs.String("url", envOr("MEALPLAN_URL", "http://localhost:8318"), "proxy base URL")
	token := fs.String("token", os.Getenv("MEALPLAN_TOKEN"), "bearer token of the user")
	data := fs.String("data", "{}", "action payload as JSON, or @file")
	timeout := fs.Duration("timeout", 90*time.Second, "request timeout")
	verbose := fs.Bool("v", false, "log request details")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: mealctl [flags] <action>\n\nactions:\n")
		for _, name := range actions.Names {
			fmt.Fprintf(stderr, "  %s\n", name)
		}
		fmt.Fprintf(stderr, "\nflags:\n")
		fs.PrintDefaults()
	}
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one action is required")
	}

	payload, errPayload := readPayload(*data)
	if errPayload != nil {
		return errPayload
	}
	req, errDecode := actions.DecodeEnvelope(actions.Envelope{Action: fs.Arg(0), Data: payload})
	if errDecode != nil {
		return errDecode
	}

	c := client.New(*baseURL,
		client.WithToken(*token),
		client.WithHTTPClient(&http.Client{Timeout: *timeout}),
		client.WithNotifier(func(_ quota.Report, message string) {
			fmt.Fprintln(stderr, message)
		}),
	)
	resp, errInvoke := c.Invoke(ctx, req.Action(), req)
	if errInvoke != nil {
		return errInvoke
	}
	return printResponse(stdout, resp)
}

func readPayload(data string) (json.RawMessage, error) {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "@") {
		raw, errRead := os.ReadFile(strings.TrimPrefix(data, "@"))
		if errRead != nil {
			return nil, fmt.Errorf("read payload: %w", errRead)
		}
		data = string(raw)
	}
	if !json.Valid([]byte(data)) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func printResponse(w io.Writer, resp *client.Response) error {
	var fields map[string]json.RawMessage
	if errUnmarshal := json.Unmarshal(resp.Raw, &fields); errUnmarshal != nil {
		return fmt.Errorf("decode response: %w", errUnmarshal)
	}
	delete(fields, "tokenUsage")
	pretty, errMarshal := json.MarshalIndent(fields, "", "  ")
	if errMarshal != nil {
		return errMarshal
	}
	if resp.Degraded {
		fmt.Fprintln(w, "note: the model answered without usable JSON, showing raw text")
	}
	fmt.Fprintln(w, string(pretty))

	u := resp.TokenUsage
	fmt.Fprintf(w, "\ntokens used this month: %s of %s (%d%%)\n",
		humanize.Comma(u.Used), humanize.Comma(u.Limit), u.PercentUsed)
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
