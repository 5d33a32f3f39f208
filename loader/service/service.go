package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"faqrag/config"
	"faqrag/loader"
	"faqrag/logger"
	"faqrag/types"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

type fileState int

const (
	stateArchived fileState = iota
	stateBad
)

// Service ingests files dropped into the source folder once they stop changing.
type Service struct {
	log      *zap.Logger
	cfg      config.LoaderConfig
	ingestor *loader.Ingestor
	poll     time.Duration

	FileMutex       sync.Mutex
	FileFirstSeen   map[string]time.Time
	FilesProcessing map[string]bool
}

func New(cfg config.LoaderConfig, ingestor *loader.Ingestor, log *zap.Logger) *Service {
	return &Service{
		log:             log,
		cfg:             cfg,
		ingestor:        ingestor,
		poll:            time.Second,
		FileFirstSeen:   make(map[string]time.Time),
		FilesProcessing: make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := createDirectories(s.cfg.SourceDir, s.cfg.ArchiveDir, s.cfg.BadDir); err != nil {
		return fmt.Errorf("create loader directories: %w", err)
	}

	fileChan := make(chan string, 10)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(fileChan)
		s.WatchFile(ctx, fileChan)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.ProcessFile(ctx, fileChan)
	}()

	<-ctx.Done()
	s.log.Info("shutting down loader service")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("all loader goroutines stopped")
	case <-time.After(5 * time.Second):
		s.log.Warn("timeout waiting for loader goroutines to stop")
	}
	return nil
}

func (s *Service) WatchFile(ctx context.Context, fileChan chan<- string) {
	s.log.Info("start monitoring folder", zap.String("dir", s.cfg.SourceDir))

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	defer s.log.Info("file watcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			files, err := os.ReadDir(s.cfg.SourceDir)
			if err != nil {
				s.log.Error("error while reading source directory", zap.Error(err))
				continue
			}

			currentFiles := make(map[string]bool)

			for _, file := range files {
				if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
					continue
				}

				filePath := filepath.Join(s.cfg.SourceDir, file.Name())
				currentFiles[filePath] = true

				info, err := file.Info()
				if err != nil {
					continue
				}

				s.FileMutex.Lock()
				if s.FilesProcessing[filePath] {
					s.FileMutex.Unlock()
					continue
				}

				// a new or modified file restarts its quiet period
				firstSeen, exists := s.FileFirstSeen[filePath]
				if !exists || info.ModTime().After(firstSeen) {
					s.FileFirstSeen[filePath] = time.Now()
					s.FileMutex.Unlock()
					if !exists {
						s.log.Info("new file detected", zap.String("file", filePath))
					}
					continue
				}
				s.FileMutex.Unlock()

				if time.Since(firstSeen) <= s.cfg.MonitoringTime {
					continue
				}

				s.FileMutex.Lock()
				s.FilesProcessing[filePath] = true
				s.FileMutex.Unlock()

				select {
				case fileChan <- filePath:
				case <-ctx.Done():
					return
				}
			}

			s.FileMutex.Lock()
			for filePath := range s.FileFirstSeen {
				if !currentFiles[filePath] {
					delete(s.FileFirstSeen, filePath)
					delete(s.FilesProcessing, filePath)
				}
			}
			s.FileMutex.Unlock()
		}
	}
}

func (s *Service) ProcessFile(ctx context.Context, fileChan <-chan string) {
	defer s.log.Info("file processor stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case filePath, ok := <-fileChan:
			if !ok {
				return
			}

			state := s.ingestFile(ctx, filePath)

			// interrupted files stay in the source folder for the next run
			if ctx.Err() != nil {
				s.FileMutex.Lock()
				delete(s.FilesProcessing, filePath)
				s.FileMutex.Unlock()
				return
			}

			// a file that could not be moved stays marked so it is not ingested again
			if err := s.MoveToArchive(filePath, state); err != nil {
				s.log.Error("error archiving file", zap.String("file", filePath), zap.Error(err))
				continue
			}

			s.FileMutex.Lock()
			delete(s.FilesProcessing, filePath)
			delete(s.FileFirstSeen, filePath)
			s.FileMutex.Unlock()
		}
	}
}

func (s *Service) ingestFile(ctx context.Context, filePath string) fileState {
	log := s.log.With(zap.String("file", filePath))
	ctx = logger.WithAction(ctxzap.ToContext(ctx, log), "ingest_file")

	data, err := os.ReadFile(filePath)
	if err != nil {
		log.Error("error reading file", zap.Error(err))
		return stateBad
	}

	upload := loader.Upload{
		FileName:     filepath.Base(filePath),
		DeclaredSize: int64(len(data)),
		Data:         data,
		Encoding:     loader.EncodingMultipart,
	}

	res, err := s.ingestor.Ingest(ctx, upload, types.DuplicateAction(s.cfg.DuplicateAction))
	if err != nil {
		log.Error("error processing file", zap.Error(err))
		return stateBad
	}

	switch {
	case res.Skipped:
		log.Info("file already loaded, skipped", zap.String("document_id", res.DocumentID))
	case res.Status == types.StatusFailed:
		log.Warn("file stored but not indexed", zap.String("document_id", res.DocumentID), zap.String("reason", res.Message))
		return stateBad
	default:
		log.Info("file loaded",
			zap.String("document_id", res.DocumentID),
			zap.Int("chunks", res.ChunkCount),
			zap.String("extraction", string(res.ExtractionStatus)),
		)
	}
	return stateArchived
}

// MoveToArchive moves the file into a dated folder of the archive or bad
// directory, suffixing the name when it is already taken.
func (s *Service) MoveToArchive(filePath string, state fileState) error {
	baseDir := s.cfg.ArchiveDir
	if state == stateBad {
		baseDir = s.cfg.BadDir
	}

	destDir := filepath.Join(baseDir, time.Now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create archive dir %s: %w", destDir, err)
	}

	destPath := filepath.Join(destDir, filepath.Base(filePath))

	counter := 1
	for {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		ext := filepath.Ext(filePath)
		baseName := strings.TrimSuffix(filepath.Base(filePath), ext)
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", baseName, counter, ext))
		counter++
	}

	if err := os.Rename(filePath, destPath); err != nil {
		// rename fails across devices, fall back to copy and remove
		if err := copyFile(filePath, destPath); err != nil {
			return fmt.Errorf("move %s: %w", filePath, err)
		}
		os.Remove(filePath)
	}

	s.log.Info("file moved", zap.String("to", destPath))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func createDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
