package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	DefaultTargetTokens = 256
	DefaultMaxTokens    = 512
	DefaultOverlapChars = 200
)

const (
	paragraphSep = "\n\n"
	sentenceSep  = " "
)

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	TargetTokens int
	MaxTokens    int
	// OverlapChars is the length of the tail carried into the next chunk.
	// Negative disables overlap.
	OverlapChars int
	Counter      TokenCounter
	Logger       *zerolog.Logger
}

// Engine turns text into TextChunks. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	target  int
	max     int
	overlap int
	counter TokenCounter
	log     zerolog.Logger
}

// New constructs an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		target:  opts.TargetTokens,
		max:     opts.MaxTokens,
		overlap: opts.OverlapChars,
		counter: opts.Counter,
		log:     zerolog.Nop(),
	}
	if e.target <= 0 {
		e.target = DefaultTargetTokens
	}
	if e.max <= 0 {
		e.max = DefaultMaxTokens
	}
	if e.max < e.target {
		e.max = e.target
	}
	if e.overlap == 0 {
		e.overlap = DefaultOverlapChars
	}
	if e.overlap < 0 {
		e.overlap = 0
	}
	if e.counter == nil {
		e.counter = HeuristicCounter
	}
	if opts.Logger != nil {
		e.log = opts.Logger.With().Str("component", "chunking").Logger()
	}
	return e
}

// CountTokens delegates to the configured TokenCounter.
func (e *Engine) CountTokens(text string) int { return e.counter.CountTokens(text) }

// Chunk splits text into chunks indexed from zero. Blank input yields nil.
func (e *Engine) Chunk(text string) []TextChunk {
	return e.build(e.split(text), nil, 0)
}

// ChunkPages chunks each page separately, tagging chunks with their page
// number. Indices continue across pages.
func (e *Engine) ChunkPages(pages []ExtractedPage) []TextChunk {
	var out []TextChunk
	for _, p := range pages {
		page := p.PageNumber
		out = append(out, e.build(e.split(p.Text), &page, len(out))...)
	}
	e.log.Debug().Int("pages", len(pages)).Int("chunks", len(out)).Msg("chunked pages")
	return out
}

func (e *Engine) build(contents []string, page *int, base int) []TextChunk {
	if len(contents) == 0 {
		return nil
	}
	out := make([]TextChunk, 0, len(contents))
	for i, c := range contents {
		tc := TextChunk{
			Content:       c,
			Index:         base + i,
			Type:          DetectType(c),
			WordCount:     wordCount(c),
			SentenceCount: sentenceCount(c),
		}
		if page != nil {
			n := *page
			tc.PageNumber = &n
		}
		out = append(out, tc)
	}
	return out
}

func (e *Engine) split(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	acc := &accumulator{e: e}
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			acc.add(p, paragraphSep)
		}
	}
	acc.finish()
	return acc.out
}

// accumulator holds the running buffer. fresh is false while the buffer
// holds nothing but the overlap tail of the last emitted chunk, which must
// not be emitted again.
type accumulator struct {
	e     *Engine
	buf   string
	fresh bool
	out   []string
}

func (a *accumulator) count(s string) int { return a.e.counter.CountTokens(s) }

func (a *accumulator) add(piece, sep string) {
	cand := join(a.buf, piece, sep)
	if a.count(cand) > a.e.max {
		if a.fresh {
			a.flush()
		}
		seeded := join(a.buf, piece, sep)
		if a.buf == "" || a.count(seeded) > a.e.max {
			if sep == paragraphSep && a.count(piece) > a.e.max {
				for _, s := range splitSentences(piece) {
					a.add(s, sentenceSep)
				}
				return
			}
			// The piece fits alone, or is a single sentence that can never fit.
			seeded = a.shortenTail(piece, sep)
		}
		a.buf, a.fresh = seeded, true
	} else {
		a.buf, a.fresh = cand, true
	}
	if a.count(a.buf) >= a.e.target {
		a.flush()
	}
}

// shortenTail keeps the longest suffix of the overlap tail that still lets
// piece fit in the token budget. With no such suffix the piece stands alone.
func (a *accumulator) shortenTail(piece, sep string) string {
	if a.buf == "" || a.count(piece) >= a.e.max {
		return piece
	}
	for n := utf8.RuneCountInString(a.buf) - 1; n > 0; n-- {
		tail := OverlapTail(a.buf, n)
		if tail == "" {
			break
		}
		if cand := join(tail, piece, sep); a.count(cand) <= a.e.max {
			return cand
		}
	}
	return piece
}

// flush emits the buffer and reseeds it with the overlap tail.
func (a *accumulator) flush() {
	c := strings.TrimSpace(a.buf)
	if c != "" {
		a.out = append(a.out, c)
	}
	a.buf, a.fresh = OverlapTail(c, a.e.overlap), false
}

func (a *accumulator) finish() {
	if a.fresh && strings.TrimSpace(a.buf) != "" {
		a.out = append(a.out, strings.TrimSpace(a.buf))
	}
	a.buf, a.fresh = "", false
}

func join(buf, piece, sep string) string {
	if buf == "" {
		return piece
	}
	return buf + sep + piece
}

// OverlapTail returns the last n characters of text, advanced to the start of
// the first sentence that begins inside that window. Text no longer than n
// is returned whole.
func OverlapTail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(text)
	if len(r) <= n {
		return strings.TrimSpace(text)
	}
	tail := string(r[len(r)-n:])
	cut := -1
	for _, b := range []string{". ", "! ", "? ", "\n"} {
		if i := strings.Index(tail, b); i >= 0 && (cut < 0 || i+len(b) < cut) {
			cut = i + len(b)
		}
	}
	if cut > 0 {
		if rest := strings.TrimSpace(tail[cut:]); rest != "" {
			return rest
		}
	}
	return strings.TrimSpace(tail)
}
