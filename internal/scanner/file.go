package scanner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"verifyme/internal/qr"
	"verifyme/internal/sentinel"
)

// FileCamera replays still images from a directory as camera frames.
type FileCamera struct {
	Dir  string
	Loop bool
}

// Open lists the frames in Dir in name order.
func (c FileCamera) Open(_ context.Context, _ Constraints) (Stream, error) {
	if c.Dir == "" {
		return nil, fmt.Errorf("%w: no frame directory configured", sentinel.ErrCameraUnavailable)
	}
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", sentinel.ErrNoDeviceFound, c.Dir)
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %s", sentinel.ErrPermissionDenied, c.Dir)
		}
		return nil, fmt.Errorf("%w: %v", sentinel.ErrCameraUnavailable, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".webp":
			files = append(files, filepath.Join(c.Dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", sentinel.ErrNoDeviceFound, c.Dir)
	}
	sort.Strings(files)
	return &fileStream{files: files, loop: c.Loop}, nil
}

type fileStream struct {
	mu      sync.Mutex
	files   []string
	next    int
	loop    bool
	stopped bool
}

func (s *fileStream) Frame(context.Context) (image.Image, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStreamStopped
	}
	if s.next >= len(s.files) {
		if !s.loop {
			s.mu.Unlock()
			return nil, ErrNoFrame
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", path, err)
	}
	return qr.DecodeImage(data)
}

func (s *fileStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}
