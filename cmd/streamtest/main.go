// Package main implements a CLI consumer for the streaming relay,
// useful for verifying a deployment end to end.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"

	"stream-relay/pkg/sse"
)

func main() {
	endpoint := flag.String("url", "http://localhost:8080/v1/stream", "Relay stream endpoint")
	token := flag.String("token", "", "Bearer credential (or STREAM_TOKEN env var)")
	topic := flag.String("topic", "", "Topic for the topic use case")
	patient := flag.String("patient", "", "Patient name for the visit-note use case")
	date := flag.String("date", "", "Date of visit (YYYY-MM-DD) for the visit-note use case")
	notes := flag.String("notes", "", "Visit notes for the visit-note use case")
	flag.Parse()

	credential := *token
	if credential == "" {
		credential = os.Getenv("STREAM_TOKEN")
	}
	if credential == "" {
		log.Fatal("no credential: pass -token or set STREAM_TOKEN")
	}

	var (
		method    = "GET"
		target    = *endpoint
		body      io.Reader
		visitNote = *patient != "" || *date != "" || *notes != ""
	)

	if visitNote {
		method = "POST"
		payload, err := json.Marshal(map[string]string{
			"patient_name":  *patient,
			"date_of_visit": *date,
			"notes":         *notes,
		})
		if err != nil {
			log.Fatalf("failed to encode request body: %v", err)
		}
		body = bytes.NewReader(payload)
	} else {
		if *topic == "" {
			log.Fatal("pass -topic, or -patient/-date/-notes for a visit note")
		}
		u, err := url.Parse(*endpoint)
		if err != nil {
			log.Fatalf("invalid endpoint URL: %v", err)
		}
		q := u.Query()
		q.Set("topic", *topic)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	client := sse.NewClient(credential)

	// The callback receives the full accumulated output after every
	// event; the CLI prints only what is new since the last redraw.
	printed := 0
	client.OnUpdate = func(full string) {
		fmt.Print(full[printed:])
		printed = len(full)
	}

	result, err := client.Stream(context.Background(), method, target, body)
	fmt.Println()

	if err != nil {
		// Partial output stays on screen; the relay never retries and
		// neither do we.
		log.Fatalf("stream failed: %v", err)
	}
	if result.Failed() {
		os.Exit(1)
	}
}
