// Command invalidate publishes a table-change event so running API instances
// drop their cached collections for that table.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mohammed-shakir/geologic-api/internal/invalidation"
	"github.com/mohammed-shakir/geologic-api/internal/invalidation/kafkaproducer"
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
	table := flag.String("table", "", "table whose cached collections are retired")
	op := flag.String("op", invalidation.OpUpdate, "insert|update|delete|reload")
	source := flag.String("source", "cli", "event source recorded in the payload")
	brokers := flag.String("brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "comma-separated broker list")
	topic := flag.String("topic", getenv("KAFKA_TOPIC", "geologic-table-updates"), "invalidation topic")
	flag.Parse()

	ev := invalidation.Event{
		Version: 1,
		Op:      strings.ToLower(strings.TrimSpace(*op)),
		Table:   strings.TrimSpace(*table),
		TS:      time.Now().UTC(),
		Source:  *source,
	}
	if err := ev.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid event:", err)
		return 2
	}

	p, err := kafkaproducer.New(strings.Split(*brokers, ","), *topic)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kafka:", err)
		return 1
	}
	defer func() { _ = p.Close() }()

	part, off, err := p.Publish(ev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "publish:", err)
		return 1
	}
	fmt.Printf("published %s %s to %s partition=%d offset=%d\n", ev.Op, ev.Table, *topic, part, off)
	return 0
}
