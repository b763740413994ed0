//go:build ignore

// Package main generates a synthetic JSONL corpus for benchmarking.
// Usage: go run scripts/generate-test-corpus.go -docs 1000 -output testdata/bench/corpus.jsonl
//
// The output is accepted by `amanrag import`. Documents are spread over a
// few owners and topics, carry file types and publish dates, and are split
// into several chunks each, so filters, presets and diversity all have
// something to work with.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/corpus"
)

var (
	numDocs   = flag.Int("docs", 1000, "Number of documents to generate")
	maxChunks = flag.Int("chunks", 6, "Maximum chunks per document")
	output    = flag.String("output", "testdata/bench/corpus.jsonl", "Output file")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var (
	owners    = []string{"acme", "globex", "initech", "umbrella"}
	fileTypes = []string{"pdf", "md", "html", "docx", "txt"}
	authors   = []string{"a.rivera", "j.chen", "m.okafor", "s.lindqvist", "p.nair"}

	topics = map[string][]string{
		"ops": {
			"circuit breaker", "retry budget", "exponential backoff", "health check",
			"rolling deploy", "incident review", "error budget", "load shedding",
		},
		"search": {
			"inverted index", "term frequency", "vector similarity", "rank fusion",
			"query expansion", "stop words", "stemming", "result diversity",
		},
		"llm": {
			"context window", "token budget", "prompt template", "system prompt",
			"conversation history", "retrieval augmentation", "grounded answer", "citation",
		},
		"data": {
			"schema migration", "write ahead log", "compaction", "replication lag",
			"snapshot isolation", "partition key", "change data capture", "backfill",
		},
	}

	verbs = []string{
		"controls", "limits", "improves", "protects", "describes",
		"depends on", "interacts with", "replaces", "measures", "bounds",
	}
	qualifiers = []string{
		"under sustained load", "during failover", "for new tenants", "in the hot path",
		"when the cache is cold", "across regions", "after a restart", "at peak traffic",
	}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}
	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", *output, err)
		os.Exit(1)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	topicNames := make([]string, 0, len(topics))
	for name := range topics {
		topicNames = append(topicNames, name)
	}
	// map order is random; keep output reproducible for a seed
	sort.Strings(topicNames)

	fmt.Printf("Generating %d documents in %s...\n", *numDocs, *output)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	chunks := 0
	for i := 0; i < *numDocs; i++ {
		topic := topicNames[rng.Intn(len(topicNames))]
		rec := generateRecord(rng, i, topic, base)
		chunks += len(rec.Chunks)
		if err := enc.Encode(rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing document %d: %v\n", i, err)
			os.Exit(1)
		}
	}

	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error flushing output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d documents (%d chunks).\n", *numDocs, chunks)
}

func generateRecord(rng *rand.Rand, index int, topic string, base time.Time) *corpus.Record {
	terms := topics[topic]
	subject := terms[rng.Intn(len(terms))]

	published := base.Add(time.Duration(rng.Intn(700*24)) * time.Hour)
	rec := &corpus.Record{
		Document: corpus.Document{
			ID:          fmt.Sprintf("doc-%05d", index),
			OwnerID:     owners[rng.Intn(len(owners))],
			TopicID:     topic,
			Title:       titleCase(subject) + " notes " + fmt.Sprint(index),
			Author:      authors[rng.Intn(len(authors))],
			FileType:    fileTypes[rng.Intn(len(fileTypes))],
			FileSize:    int64(2048 + rng.Intn(512*1024)),
			PublishedAt: published,
			UpdatedAt:   published.Add(time.Duration(rng.Intn(90*24)) * time.Hour),
		},
	}

	n := 1 + rng.Intn(*maxChunks)
	for c := 0; c < n; c++ {
		rec.Chunks = append(rec.Chunks, corpus.RecordChunk{
			Content: paragraph(rng, subject, terms),
		})
	}
	return rec
}

// paragraph builds three to six sentences, each linking the subject to
// another term of the same topic.
func paragraph(rng *rand.Rand, subject string, terms []string) string {
	n := 3 + rng.Intn(4)
	sentences := make([]string, 0, n)
	for i := 0; i < n; i++ {
		other := terms[rng.Intn(len(terms))]
		sentences = append(sentences, fmt.Sprintf("The %s %s the %s %s.",
			subject, verbs[rng.Intn(len(verbs))], other, qualifiers[rng.Intn(len(qualifiers))]))
	}
	return strings.Join(sentences, " ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
