// Package images manages coupon artwork and QR bitmaps on disk
package images

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg" // artwork decoder
	"image/png"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
	"github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp" // artwork decoder
)

const (
	qrSize       = 512
	fallbackSize = 512
	fallbackName = "fallback.png"
	fallbackText = "Kein Bild"
)

var unsafeNameRegexp = regexp.MustCompile(`[^A-Za-z0-9_-]`)

var knownExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// Downloader downloads a resource
type Downloader interface {
	Download(ctx context.Context, link string) ([]byte, error)
}

// Store keeps coupon images in a directory
type Store struct {
	dir        string
	downloader Downloader
	fallback   string
}

// NewStore creates the image directories and the fallback bitmap
func NewStore(dir string, downloader Downloader) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "qr"), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create images directory, %w", err)
	}
	s := &Store{dir: dir, downloader: downloader, fallback: filepath.Join(dir, fallbackName)}
	if Validate(s.fallback) != nil {
		if err := WriteFallback(s.fallback, fallbackText); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Ensure downloads coupon artwork and generates its QR bitmap if they are missing.
// Failures are logged and retried next time.
func (s *Store) Ensure(ctx context.Context, c *coupons.Coupon) {
	name := unsafeNameRegexp.ReplaceAllString(c.ID, "_")
	if c.ImageURL != "" {
		file := filepath.Join(s.dir, name+extension(c.ImageURL))
		if Validate(file) != nil {
			if err := s.download(ctx, c.ImageURL, file); err != nil {
				cmdlib.Lerr("cannot download image of coupon %s, %v", c.ID, err)
				file = ""
			}
		}
		c.ImagePath = file
	}
	qr := filepath.Join(s.dir, "qr", name+".png")
	if _, err := os.Stat(qr); err != nil {
		if err := qrcode.WriteFile(c.ID, qrcode.Medium, qrSize, qr); err != nil {
			cmdlib.Lerr("cannot generate QR code of coupon %s, %v", c.ID, err)
			qr = ""
		}
	}
	c.QRImagePath = qr
}

func (s *Store) download(ctx context.Context, link, file string) error {
	data, err := s.downloader.Download(ctx, link)
	if err != nil {
		return err
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("broken image, %w", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return err
	}
	if err := Validate(file); err != nil {
		_ = os.Remove(file)
		return err
	}
	return nil
}

// Photos returns the main image and the QR bitmap of a coupon,
// missing or broken files are replaced by the fallback bitmap
func (s *Store) Photos(c *coupons.Coupon) (string, string) {
	return s.orFallback(c.ImagePath, c.ID), s.orFallback(c.QRImagePath, c.ID)
}

func (s *Store) orFallback(file string, id string) string {
	if file == "" {
		return s.fallback
	}
	if err := Validate(file); err != nil {
		cmdlib.Lerr("image %s of coupon %s is broken, %v", file, id, err)
		return s.fallback
	}
	return file
}

// Validate checks that a file is a decodable image
func Validate(file string) error {
	f, err := os.Open(filepath.Clean(file))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, _, err := image.Decode(f); err != nil {
		return fmt.Errorf("cannot decode %s, %w", file, err)
	}
	return nil
}

// WriteFallback writes a plain bitmap with a caption
func WriteFallback(file string, text string) error {
	img := image.NewRGBA(image.Rect(0, 0, fallbackSize, fallbackSize))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(color.Black), Face: face}
	width := d.MeasureString(text)
	d.Dot = fixed.Point26_6{
		X: (fixed.I(fallbackSize) - width) / 2,
		Y: fixed.I(fallbackSize / 2),
	}
	d.DrawString(text)
	buf := bytes.Buffer{}
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	if err := os.WriteFile(file, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("cannot write fallback image, %w", err)
	}
	return nil
}

func extension(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ".jpg"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if !knownExtensions[ext] {
		return ".jpg"
	}
	return ext
}
