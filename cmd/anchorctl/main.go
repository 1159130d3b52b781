// anchorctl is the control CLI for anchord, speaking to its admin API.
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

var (
	addr    = flag.String("addr", "http://127.0.0.1:8780", "anchord admin API address")
	timeout = flag.Duration("timeout", 10*time.Second, "request timeout")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)

	switch cmd {
	case "stats":
		cmdStats()
	case "history":
		cmdHistory()
	case "pending":
		cmdPending()
	case "flush":
		cmdFlush()
	case "retry":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: anchorctl retry <batchID>")
			os.Exit(1)
		}
		cmdRetry(flag.Arg(1))
	case "proof":
		if flag.NArg() < 3 {
			fmt.Fprintln(os.Stderr, "Usage: anchorctl proof <batchID> <eventID|eventHash>")
			os.Exit(1)
		}
		cmdProof(flag.Arg(1), flag.Arg(2))
	case "report":
		cmdReport(flag.Args()[1:])
	case "config":
		cmdConfig(flag.Args()[1:])
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `anchorctl - Control utility for anchord

Usage: anchorctl [options] <command> [args]

Commands:
  stats                        Show pipeline statistics
  history [limit]              List recent batches
  pending                      List buffered, not-yet-batched event hashes
  flush                        Force an immediate batch from the buffer
  retry <batchID>              Re-anchor a FAILED batch
  proof <batchID> <eventID>    Fetch an inclusion proof
  report [-from t] [-to t] [-text]
                               Fetch a compliance report (RFC 3339 window)
  config [-max-batch-size n] [-max-batch-age-ms n] [-enabled bool]
                               Tune accumulator thresholds at runtime
  help                         Show this help message

Options:
  -addr <url>     anchord admin API address (default http://127.0.0.1:8780)
  -timeout <dur>  request timeout (default 10s)`)
}

func cmdStats() {
	var resp struct {
		Stats struct {
			PendingEventCount int `json:"pending_event_count"`
			TotalBatches      int `json:"total_batches"`
			AnchoredBatches   int `json:"anchored_batches"`
			FailedBatches     int `json:"failed_batches"`
		} `json:"stats"`
	}
	get("/api/v1/stats", nil, &resp)

	fmt.Println("=== anchord Statistics ===")
	fmt.Printf("Pending events:   %d\n", resp.Stats.PendingEventCount)
	fmt.Printf("Total batches:    %d\n", resp.Stats.TotalBatches)
	fmt.Printf("Anchored batches: %d\n", resp.Stats.AnchoredBatches)
	fmt.Printf("Failed batches:   %d\n", resp.Stats.FailedBatches)
}

func cmdHistory() {
	limit := 20
	if flag.NArg() >= 2 {
		if n, err := strconv.Atoi(flag.Arg(1)); err == nil && n > 0 {
			limit = n
		}
	}

	var resp struct {
		Items []struct {
			ID          string    `json:"id"`
			MerkleRoot  string    `json:"merkle_root"`
			EventCount  int       `json:"event_count"`
			CreatedAt   time.Time `json:"created_at"`
			Status      string    `json:"status"`
			TxHash      string    `json:"tx_hash"`
			RetryCount  int       `json:"retry_count"`
			BlockNumber uint64    `json:"block_number"`
		} `json:"items"`
	}
	get("/api/v1/history", url.Values{"limit": {strconv.Itoa(limit)}}, &resp)

	if len(resp.Items) == 0 {
		fmt.Println("No batches recorded.")
		return
	}

	fmt.Printf("%-34s %-10s %6s %-20s %s\n", "Batch", "Status", "Events", "Created", "Root")
	fmt.Println(strings.Repeat("-", 100))
	for _, b := range resp.Items {
		root := b.MerkleRoot
		if len(root) > 16 {
			root = root[:16] + "..."
		}
		fmt.Printf("%-34s %-10s %6d %-20s %s\n",
			b.ID, b.Status, b.EventCount, b.CreatedAt.Format("2006-01-02 15:04:05"), root)
	}
}

func cmdPending() {
	var resp struct {
		Count  int      `json:"count"`
		Hashes []string `json:"hashes"`
	}
	get("/api/v1/pending", nil, &resp)

	fmt.Printf("Buffered events: %d\n", resp.Count)
	for _, h := range resp.Hashes {
		fmt.Printf("  %s\n", h)
	}
}

func cmdFlush() {
	var resp struct {
		Batch *struct {
			ID         string `json:"id"`
			MerkleRoot string `json:"merkle_root"`
			EventCount int    `json:"event_count"`
			Status     string `json:"status"`
		} `json:"batch"`
	}
	post("/api/v1/flush", nil, &resp)

	if resp.Batch == nil {
		fmt.Println("Buffer was empty; no batch created.")
		return
	}
	fmt.Println("Batch created:")
	fmt.Printf("  ID:     %s\n", resp.Batch.ID)
	fmt.Printf("  Events: %d\n", resp.Batch.EventCount)
	fmt.Printf("  Root:   %s\n", resp.Batch.MerkleRoot)
	fmt.Printf("  Status: %s\n", resp.Batch.Status)
}

func cmdRetry(batchID string) {
	var resp struct {
		Batch struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			TxHash string `json:"tx_hash"`
		} `json:"batch"`
	}
	post("/api/v1/batches/"+url.PathEscape(batchID)+"/retry", nil, &resp)

	fmt.Printf("Batch %s is now %s\n", resp.Batch.ID, resp.Batch.Status)
	if resp.Batch.TxHash != "" {
		fmt.Printf("  Tx: %s\n", resp.Batch.TxHash)
	}
}

func cmdProof(batchID, eventRef string) {
	var resp struct {
		BatchID    string   `json:"batch_id"`
		MerkleRoot string   `json:"merkle_root"`
		EventHash  string   `json:"event_hash"`
		Proof      []string `json:"proof"`
		Index      int      `json:"index"`
	}
	get("/api/v1/batches/"+url.PathEscape(batchID)+"/proof/"+url.PathEscape(eventRef), nil, &resp)

	fmt.Println("=== Inclusion Proof ===")
	fmt.Printf("Batch:      %s\n", resp.BatchID)
	fmt.Printf("Event hash: %s\n", resp.EventHash)
	fmt.Printf("Index:      %d\n", resp.Index)
	fmt.Printf("Root:       %s\n", resp.MerkleRoot)
	fmt.Printf("Path (%d siblings):\n", len(resp.Proof))
	for i, sib := range resp.Proof {
		fmt.Printf("  [%d] %s\n", i, sib)
	}
}

func cmdReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	from := fs.String("from", "", "window start (RFC 3339)")
	to := fs.String("to", "", "window end (RFC 3339)")
	text := fs.Bool("text", false, "render as plain text")
	fs.Parse(args)

	q := url.Values{}
	if *from != "" {
		q.Set("from", *from)
	}
	if *to != "" {
		q.Set("to", *to)
	}

	if *text {
		q.Set("format", "text")
		body := getRaw("/api/v1/report", q)
		os.Stdout.Write(body)
		return
	}

	var resp struct {
		Report json.RawMessage `json:"report"`
	}
	get("/api/v1/report", q, &resp)

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resp.Report, "", "  "); err != nil {
		fmt.Println(string(resp.Report))
		return
	}
	fmt.Println(pretty.String())
}

func cmdConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	maxSize := fs.Int("max-batch-size", 0, "flush threshold")
	maxAgeMs := fs.Int("max-batch-age-ms", 0, "age threshold in milliseconds")
	maxPending := fs.Int("max-pending", 0, "buffer bound")
	enabled := fs.String("enabled", "", "enable or disable batching (true/false)")
	fs.Parse(args)

	update := map[string]any{}
	if *maxSize > 0 {
		update["max_batch_size"] = *maxSize
	}
	if *maxAgeMs > 0 {
		update["max_batch_age_ms"] = *maxAgeMs
	}
	if *maxPending > 0 {
		update["max_pending"] = *maxPending
	}
	if *enabled != "" {
		b, err := strconv.ParseBool(*enabled)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -enabled value: %s\n", *enabled)
			os.Exit(1)
		}
		update["enabled"] = b
	}
	if len(update) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to update; pass at least one flag.")
		os.Exit(1)
	}

	var resp struct {
		Limits map[string]any `json:"limits"`
	}
	put("/api/v1/config", update, &resp)

	fmt.Println("Accumulator limits updated:")
	for _, k := range []string{"max_batch_size", "min_batch_size", "max_batch_age_ms", "max_pending", "enabled"} {
		if v, ok := resp.Limits[k]; ok {
			fmt.Printf("  %-17s %v\n", k+":", v)
		}
	}
}

// HTTP helpers

func get(path string, q url.Values, out any) {
	decode(getRaw(path, q), out)
}

func getRaw(path string, q url.Values) []byte {
	u := *addr + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		die("build request: %v", err)
	}
	return do(req)
}

func post(path string, payload, out any) {
	send(http.MethodPost, path, payload, out)
}

func put(path string, payload, out any) {
	send(http.MethodPut, path, payload, out)
}

func send(method, path string, payload, out any) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			die("encode request: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, *addr+path, body)
	if err != nil {
		die("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	decode(do(req), out)
}

func do(req *http.Request) []byte {
	client := &http.Client{Timeout: *timeout}
	resp, err := client.Do(req)
	if err != nil {
		die("anchord unreachable at %s: %v", *addr, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		die("read response: %v", err)
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			die("%s (%s)", e.Error, resp.Status)
		}
		die("request failed: %s", resp.Status)
	}
	return data
}

func decode(data []byte, out any) {
	if out == nil {
		return
	}
	if err := json.Unmarshal(data, out); err != nil {
		die("decode response: %v", err)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "anchorctl: "+format+"\n", args...)
	os.Exit(1)
}
