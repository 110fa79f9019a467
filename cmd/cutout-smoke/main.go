// Command cutout-smoke checks a running cutout service end to end: image
// shape, kind distinctness, All ordering and FITS/array integrity.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mohammed-shakir/cutout-service/internal/core/httpclient"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	os.Exit(run())
}

func run() int {
	api := flag.String("api", getenv("APIURL", "http://localhost:8090"), "service base URL")
	schemaFlag := flag.String("schema", getenv("CUTOUT_SCHEMA", "ztf"), "ztf or lsst")
	path := flag.String("path", os.Getenv("SMOKE_PATH"), "archive path holding the test alert")
	id := flag.String("id", os.Getenv("SMOKE_ID"), "objectId (ztf) or diaSourceId (lsst)")
	rows := flag.Int("rows", 63, "expected stamp rows")
	cols := flag.Int("cols", 63, "expected stamp columns")
	redisAddr := flag.String("redis", os.Getenv("REDIS_ADDR"), "redis address to ping; empty skips")
	brokers := flag.String("kafka", os.Getenv("KAFKA_BROKERS"), "brokers for an invalidation event; empty skips")
	topic := flag.String("topic", getenv("KAFKA_TOPIC", "cutout-invalidation"), "invalidation topic")
	flag.Parse()

	if *path == "" || *id == "" {
		fmt.Fprintln(os.Stderr, "cutout-smoke: -path and -id are required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c := newChecker(httpclient.NewOutbound(60*time.Second), *api, *schemaFlag, *path, *id)
	failed := runChecks(ctx, c, *rows, *cols)

	if *redisAddr != "" {
		report("redis ping", pingRedis(ctx, *redisAddr), &failed)
	}
	if *brokers != "" {
		report("publish invalidation", publishInvalidation(strings.Split(*brokers, ","), *topic, *path), &failed)
	}

	if failed > 0 {
		fmt.Printf("%d check(s) failed\n", failed)
		return 1
	}
	fmt.Println("All checks passed")
	return 0
}

func newChecker(client *http.Client, api, schema, path, id string) *checker {
	body := map[string]any{"hdfsPath": path}
	if strings.EqualFold(schema, "lsst") {
		body["diaSourceId"] = id
	} else {
		body["objectId"] = id
	}
	return &checker{
		client: client,
		url:    strings.TrimRight(api, "/") + "/api/v1/" + strings.ToLower(schema) + "/cutouts",
		body:   body,
	}
}

func runChecks(ctx context.Context, c *checker, rows, cols int) int {
	failed := 0
	report("shape", c.checkShape(ctx, rows, cols), &failed)
	report("kinds", c.checkKinds(ctx), &failed)
	report("integrity", c.checkIntegrity(ctx), &failed)
	report("FITS+All rejected", c.checkFITSAllRejected(ctx), &failed)
	return failed
}

func report(name string, err error, failed *int) {
	if err != nil {
		*failed++
		fmt.Printf("FAIL %-22s %v\n", name, err)
		return
	}
	fmt.Printf("ok   %s\n", name)
}
