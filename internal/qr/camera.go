package qr

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"sync"
)

var (
	// ErrCameraDenied is returned when the frame source refuses access.
	ErrCameraDenied = errors.New("camera access denied")
	// ErrNoCamera is returned when the frame source does not exist.
	ErrNoCamera = errors.New("camera not found")
	// ErrCameraClosed is returned by Frame after Close.
	ErrCameraClosed = errors.New("camera closed")
)

// Camera is a source of frames. Frame and Close may be called concurrently.
type Camera interface {
	Open() error
	Frame() (image.Image, error)
	Close() error
}

// FileCamera replays still images from disk as camera frames, cycling
// through Paths in order.
type FileCamera struct {
	Paths []string

	mu     sync.Mutex
	open   bool
	next   int
	frames []image.Image
}

// NewFileCamera returns a camera over the given image files.
func NewFileCamera(paths ...string) *FileCamera {
	return &FileCamera{Paths: paths}
}

// Open loads every image. Unreadable files map to ErrCameraDenied or
// ErrNoCamera.
func (c *FileCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Paths) == 0 {
		return ErrNoCamera
	}
	frames := make([]image.Image, 0, len(c.Paths))
	for _, p := range c.Paths {
		img, err := loadImage(p)
		if err != nil {
			return err
		}
		frames = append(frames, img)
	}
	c.frames = frames
	c.next = 0
	c.open = true
	return nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrCameraDenied, path)
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNoCamera, path)
	case err != nil:
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Frame returns the next image.
func (c *FileCamera) Frame() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, ErrCameraClosed
	}
	img := c.frames[c.next]
	c.next = (c.next + 1) % len(c.frames)
	return img, nil
}

// Close releases the loaded frames.
func (c *FileCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.frames = nil
	return nil
}
