// Package ingest turns source documents into embedded knowledge base chunks.
package ingest

import "strings"

const (
	DefaultTargetSize = 1200
	DefaultMaxSize    = 2000
)

// Options configures chunking behavior. Sizes are in bytes of UTF-8 text.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns the chunk sizing used by the ingest command.
func DefaultOptions() Options {
	return Options{TargetSize: DefaultTargetSize, MaxSize: DefaultMaxSize}
}

// Chunk splits text on paragraph and heading boundaries, merging small
// paragraphs up to the target size and hard-splitting anything that still
// exceeds the maximum. Short text comes back as a single chunk.
func Chunk(text string, opts Options) []string {
	if opts.TargetSize <= 0 {
		opts = DefaultOptions()
	}
	if opts.MaxSize < opts.TargetSize {
		opts.MaxSize = opts.TargetSize
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= opts.MaxSize {
		return []string{text}
	}

	return merge(splitBlocks(text), opts)
}

// splitBlocks splits text on heading lines and blank lines.
func splitBlocks(text string) []string {
	lines := strings.Split(text, "\n")
	var blocks []string
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		if b := strings.TrimSpace(strings.Join(current, "\n")); b != "" {
			blocks = append(blocks, b)
		}
		current = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
		}
		if trimmed == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()

	return blocks
}

// merge combines small blocks up to the target size and hard-splits oversized
// ones.
func merge(blocks []string, opts Options) []string {
	var out []string
	var accum string

	flush := func() {
		if accum == "" {
			return
		}
		if len(accum) > opts.MaxSize {
			out = append(out, hardSplit(accum, opts)...)
		} else {
			out = append(out, accum)
		}
		accum = ""
	}

	for _, b := range blocks {
		if accum == "" {
			accum = b
			continue
		}
		if len(accum)+len(b)+2 <= opts.TargetSize {
			accum += "\n\n" + b
		} else {
			flush()
			accum = b
		}
	}
	flush()

	return out
}

// hardSplit breaks an oversized block on line boundaries, falling back to a
// byte split for a single line longer than the target.
func hardSplit(text string, opts Options) []string {
	var out []string
	var current []string
	size := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		if t := strings.TrimSpace(strings.Join(current, "\n")); t != "" {
			out = append(out, t)
		}
		current = nil
		size = 0
	}

	for _, line := range strings.Split(text, "\n") {
		if len(line) > opts.MaxSize {
			flush()
			for len(line) > opts.TargetSize {
				out = append(out, strings.TrimSpace(line[:opts.TargetSize]))
				line = line[opts.TargetSize:]
			}
			if t := strings.TrimSpace(line); t != "" {
				out = append(out, t)
			}
			continue
		}
		if size+len(line)+1 > opts.TargetSize {
			flush()
		}
		current = append(current, line)
		size += len(line) + 1
	}
	flush()

	return out
}
