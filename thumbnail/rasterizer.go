package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CommandTimeout bounds a single rasterizer invocation.
const CommandTimeout = 30 * time.Second

// Command rasterizes a PDF by running an external converter that writes
// page one as PNG to an output file.
type Command struct {
	Name string
	Path string
	// Args builds the argument list for src and the PNG file to write.
	Args func(src, out string) []string
}

// Known converters, in order of preference.
var converters = []Command{
	{
		Name: "pdftoppm",
		Args: func(src, out string) []string {
			return []string{"-f", "1", "-l", "1", "-png", "-singlefile", src, strings.TrimSuffix(out, ".png")}
		},
	},
	{
		Name: "magick",
		Args: func(src, out string) []string {
			return []string{"-density", "72", src + "[0]", out}
		},
	},
	{
		Name: "gs",
		Args: func(src, out string) []string {
			return []string{"-q", "-dSAFER", "-dBATCH", "-dNOPAUSE", "-sDEVICE=png16m",
				"-dFirstPage=1", "-dLastPage=1", "-r72", "-sOutputFile=" + out, src}
		},
	},
}

// Detect returns the first converter found on PATH, or nil.
func Detect() Rasterizer {
	for _, c := range converters {
		if p, err := exec.LookPath(c.Name); err == nil {
			c.Path = p
			return &c
		}
	}
	return nil
}

// FirstPage runs the converter and decodes its output.
func (c *Command) FirstPage(ctx context.Context, src string) (image.Image, error) {
	dir, err := os.MkdirTemp("", "mediawidget-raster-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "page.png")

	ctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()

	bin := c.Path
	if bin == "" {
		bin = c.Name
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, c.Args(src, out)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", c.Name, err, strings.TrimSpace(stderr.String()))
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("%s produced no output: %w", c.Name, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s output: %w", c.Name, err)
	}
	return img, nil
}
