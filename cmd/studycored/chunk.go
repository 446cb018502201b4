package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"studycore/internal/chunking"
)

type chunkLine struct {
	chunking.TextChunk
	Tokens int `json:"tokens"`
}

func newChunkCmd(opts *rootOptions) *cobra.Command {
	var pageBreaks bool
	cmd := &cobra.Command{
		Use:   "chunk [file]",
		Short: "Split a text file (or stdin) into retrieval chunks",
		Long: "Split extracted text into chunks with the configured sizes and print one JSON object per chunk.\n" +
			"With --pages, form feeds separate pages, as pdftotext writes them.",
		Example: "  pdftotext notes.pdf - | studycored chunk --pages",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			in := io.Reader(cmd.InOrStdin())
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			text, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			eng := chunking.New(chunking.Options{
				TargetTokens: cfg.Chunking.TargetTokens,
				MaxTokens:    cfg.Chunking.MaxTokens,
				OverlapChars: cfg.Chunking.OverlapChars,
			})
			return writeChunks(cmd.OutOrStdout(), eng, string(text), pageBreaks)
		},
	}
	cmd.Flags().BoolVar(&pageBreaks, "pages", false, "Treat form feeds as page breaks and record page numbers")
	return cmd
}

// writeChunks prints chunks as NDJSON.
func writeChunks(w io.Writer, eng *chunking.Engine, text string, pageBreaks bool) error {
	var chunks []chunking.TextChunk
	if pageBreaks {
		var pages []chunking.ExtractedPage
		for i, p := range strings.Split(text, "\f") {
			pages = append(pages, chunking.ExtractedPage{PageNumber: i + 1, Text: p, ExtractionMethod: "text"})
		}
		chunks = eng.ChunkPages(pages)
	} else {
		chunks = eng.Chunk(text)
	}
	if len(chunks) == 0 {
		return chunking.ErrExtractionFailed("no text to chunk")
	}
	enc := json.NewEncoder(w)
	for _, c := range chunks {
		if err := enc.Encode(chunkLine{TextChunk: c, Tokens: eng.CountTokens(c.Content)}); err != nil {
			return err
		}
	}
	return nil
}
