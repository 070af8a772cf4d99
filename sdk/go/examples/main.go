package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ToolPilot/sdk/go/toolpilot"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/requests", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(toolpilot.Reply{
			SessionID: "demo-session",
			Text:      "You have two meetings tomorrow.",
			Turn:      &toolpilot.Turn{ID: "turn-1", Sequence: 1, Tool: "calendar", Status: "completed"},
		})
	})
	mux.HandleFunc("/api/v1/tools/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tools": []toolpilot.ToolStatus{{Tool: "calendar", State: "connected", RefCount: 1}},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := toolpilot.NewClient(srv.URL, toolpilot.WithHTTPClient(srv.Client()))
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.Submit(ctx, "", "what is on my calendar tomorrow")
	if err != nil {
		panic(err)
	}
	fmt.Printf("session %s answered via %s: %s\n", reply.SessionID, reply.Turn.Tool, reply.Text)

	tools, err := client.ToolStatuses(ctx)
	if err != nil {
		panic(err)
	}
	for _, tool := range tools {
		fmt.Printf("tool %s is %s (refs=%d)\n", tool.Tool, tool.State, tool.RefCount)
	}
}
