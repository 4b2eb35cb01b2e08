// crawl-watch tails the crawl journal's Redis stream and prints each event
// as a colored line. It reads without a consumer group so any number of
// watchers can run next to the relay's real consumers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"

	"github.com/petstay/hotel-scraper/internal/models"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	addr := getEnv("REDIS_ADDR", "localhost:6379")
	stream := getEnv("REDIS_STREAM", "crawl.events")

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("cannot reach redis", "addr", addr, "error", err)
		os.Exit(1)
	}
	color.Cyan("watching %s on %s", stream, addr)

	if err := watch(ctx, rdb, stream); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("watch ended", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// watch tails the stream starting from now.
func watch(ctx context.Context, rdb *redis.Client, stream string) error {
	lastID := "$"
	for {
		res, err := rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   32,
			Block:   5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("stream read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, s := range res {
			for _, msg := range s.Messages {
				lastID = msg.ID
				printEvent(msg)
			}
		}
	}
}

func printEvent(msg redis.XMessage) {
	eventType, _ := msg.Values["type"].(string)
	brand, _ := msg.Values["brand"].(string)

	line := fmt.Sprintf("%s  %-8s %-20s %s",
		eventTime(msg).Format("15:04:05"), brand, eventType, eventDetail(msg))

	switch eventType {
	case "run_started", "run_completed":
		color.Green("%s", line)
	case "run_failed", "stall_detected", "item_failed", "collection_abandoned":
		color.Red("%s", line)
	case "page_advanced", "collection_advanced":
		color.Cyan("%s", line)
	default:
		fmt.Println(line)
	}
}

// eventTime prefers the relay's publish timestamp over local time.
func eventTime(msg redis.XMessage) time.Time {
	raw, _ := msg.Values["timestamp"].(string)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(0, n)
	}
	return time.Now()
}

// eventDetail digs the crawl position, hotel code and detail text out of
// the relayed payload.
func eventDetail(msg redis.XMessage) string {
	raw, _ := msg.Values["data"].(string)
	if raw == "" {
		return ""
	}

	var envelope struct {
		Payload struct {
			Position  models.CrawlPosition `json:"position"`
			HotelCode string               `json:"hotel_code"`
			Detail    string               `json:"detail"`
		} `json:"payload"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return ""
	}

	p := envelope.Payload
	out := p.Position.String()
	if p.HotelCode != "" {
		out += "  " + p.HotelCode
	}
	if p.Detail != "" {
		out += "  " + p.Detail
	}
	return out
}
