// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pdftext wraps the external PDF-to-text toolchain. Text extraction
// quality is delegated entirely to that tool; this package only shells out
// and cleans up the result.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Result holds the text extracted from one PDF.
type Result struct {
	Title string
	Text  string
}

// Extractor converts a locally materialized PDF into plain text.
type Extractor interface {
	Extract(ctx context.Context, pdfPath string) (Result, error)
}

// CommandExtractor runs an external converter binary (pdftotext by default)
// and captures its stdout.
type CommandExtractor struct {
	// Bin is the converter binary. Defaults to "pdftotext".
	Bin string
	// Timeout bounds one conversion. Defaults to 2 minutes.
	Timeout time.Duration
}

// NewCommandExtractor creates an extractor using the given binary, or the
// default when bin is empty.
func NewCommandExtractor(bin string) *CommandExtractor {
	return &CommandExtractor{Bin: bin}
}

// Extract runs the converter and returns the extracted text. The title is
// derived from the first non-empty output line, falling back to the file
// name.
func (e *CommandExtractor) Extract(ctx context.Context, pdfPath string) (Result, error) {
	bin := e.Bin
	if bin == "" {
		bin = "pdftotext"
	}
	timeout := e.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// "-" writes the text to stdout.
	cmd := exec.CommandContext(ctx, bin, "-layout", pdfPath, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Result{}, fmt.Errorf("pdf text extraction timed out after %s", timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return Result{}, fmt.Errorf("run %s: %s", bin, msg)
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return Result{}, fmt.Errorf("empty text (image-only PDF, OCR may be needed)")
	}

	return Result{
		Title: titleFor(pdfPath, text),
		Text:  text,
	}, nil
}

func titleFor(pdfPath, text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			if len(line) > 80 {
				line = line[:80]
			}
			return line
		}
	}
	name := filepath.Base(pdfPath)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
