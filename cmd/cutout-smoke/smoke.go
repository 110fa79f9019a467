package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/cutout-service/internal/core/model"
	"github.com/mohammed-shakir/cutout-service/internal/invalidation"
	"github.com/mohammed-shakir/cutout-service/internal/invalidation/kafkapublisher"
	"github.com/mohammed-shakir/cutout-service/internal/stamp"
)

// image is one decoded stamp as the API returns it.
type image [][]*float64

type checker struct {
	client *http.Client
	url    string // cutout endpoint
	body   map[string]any
}

func (c *checker) request(ctx context.Context, kind model.StampKind, format model.ReturnFormat) (*http.Response, error) {
	payload := make(map[string]any, len(c.body)+2)
	for k, v := range c.body {
		payload[k] = v
	}
	payload["kind"] = string(kind)
	payload["return_type"] = string(format)
	b, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", c.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s/%s: status %d: %s", kind, format, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func (c *checker) arrays(ctx context.Context, kind model.StampKind) ([]image, error) {
	resp, err := c.request(ctx, kind, model.FormatArray)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var out []image
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s arrays: %w", kind, err)
	}
	return out, nil
}

func (c *checker) fits(ctx context.Context, kind model.StampKind) (stamp.Pixels, error) {
	resp, err := c.request(ctx, kind, model.FormatFITS)
	if err != nil {
		return stamp.Pixels{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if !strings.HasPrefix(resp.Header.Get("Content-Disposition"), "attachment;") {
		return stamp.Pixels{}, fmt.Errorf("FITS response is not an attachment: %q", resp.Header.Get("Content-Disposition"))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return stamp.Pixels{}, fmt.Errorf("read FITS body: %w", err)
	}
	st, err := stamp.Decode(raw, model.FormatArray, false)
	if err != nil {
		return stamp.Pixels{}, fmt.Errorf("parse FITS body: %w", err)
	}
	return *st.Pixels, nil
}

// checkShape: a single kind returns one rows x cols image.
func (c *checker) checkShape(ctx context.Context, rows, cols int) error {
	data, err := c.arrays(ctx, model.StampScience)
	if err != nil {
		return err
	}
	if len(data) != 1 {
		return fmt.Errorf("Science returned %d images, want 1", len(data))
	}
	if len(data[0]) != rows || len(data[0][0]) != cols {
		return fmt.Errorf("Science shape %dx%d, want %dx%d", len(data[0]), len(data[0][0]), rows, cols)
	}
	return nil
}

// checkKinds: Science, Template and Difference differ, and All returns them
// in that order.
func (c *checker) checkKinds(ctx context.Context) error {
	single := make([]image, 0, len(model.SingleStampKinds))
	for _, k := range model.SingleStampKinds {
		d, err := c.arrays(ctx, k)
		if err != nil {
			return err
		}
		if len(d) != 1 {
			return fmt.Errorf("%s returned %d images, want 1", k, len(d))
		}
		single = append(single, d[0])
	}
	if equal(single[0], single[1]) || equal(single[1], single[2]) {
		return errors.New("stamp kinds are not distinct")
	}

	all, err := c.arrays(ctx, model.StampAll)
	if err != nil {
		return err
	}
	if len(all) != 3 {
		return fmt.Errorf("All returned %d images, want 3", len(all))
	}
	for i := range all {
		if !equal(all[i], single[i]) {
			return fmt.Errorf("All[%d] differs from %s", i, model.SingleStampKinds[i])
		}
	}
	return nil
}

// checkIntegrity: the FITS and array outputs carry the same pixels.
func (c *checker) checkIntegrity(ctx context.Context) error {
	arr, err := c.arrays(ctx, model.StampScience)
	if err != nil {
		return err
	}
	px, err := c.fits(ctx, model.StampScience)
	if err != nil {
		return err
	}
	if len(arr) != 1 || len(arr[0]) != px.Rows() || len(arr[0][0]) != px.Cols() {
		return fmt.Errorf("FITS shape %v does not match array output", px.Shape)
	}
	for r, row := range arr[0] {
		for col, v := range row {
			want := px.Data[r*px.Cols()+col]
			if v == nil {
				if !math.IsNaN(want) {
					return fmt.Errorf("pixel (%d,%d): array null, FITS %v", r, col, want)
				}
				continue
			}
			if *v != want {
				return fmt.Errorf("pixel (%d,%d): array %v, FITS %v", r, col, *v, want)
			}
		}
	}
	return nil
}

// checkFITSAllRejected: FITS with kind=All is a 400.
func (c *checker) checkFITSAllRejected(ctx context.Context) error {
	_, err := c.request(ctx, model.StampAll, model.FormatFITS)
	if err == nil {
		return errors.New("FITS with kind=All was accepted")
	}
	if !strings.Contains(err.Error(), "status 400") {
		return fmt.Errorf("FITS with kind=All: %w", err)
	}
	return nil
}

func equal(a, b image) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			x, y := a[i][j], b[i][j]
			if (x == nil) != (y == nil) || (x != nil && *x != *y) {
				return false
			}
		}
	}
	return true
}

func pingRedis(ctx context.Context, addr string) error {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	defer func() { _ = client.Close() }()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// publishInvalidation sends one rewrite event for path.
func publishInvalidation(brokers []string, topic, path string) error {
	pub, err := kafkapublisher.New(brokers, topic, "cutout-smoke")
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()
	part, off, err := pub.Publish(invalidation.OpRewrite, path)
	if err != nil {
		return err
	}
	fmt.Printf("     invalidation for %s at partition %d offset %d\n", path, part, off)
	return nil
}
