package crawler

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// LoadTasks reads one URL per line from path, skipping blanks, and derives
// each task's domain. A limit <= 0 means the whole file. Lines whose host
// cannot be parsed are logged and skipped rather than failing the crawl.
func LoadTasks(path string, limit int, logger *zap.Logger) ([]Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()

	var tasks []Task
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		domain, err := DomainOf(line)
		if err != nil {
			logger.Warn("skipping unparseable url", zap.String("url", line), zap.Error(err))
			continue
		}
		tasks = append(tasks, Task{URL: line, Domain: domain})
		if limit > 0 && len(tasks) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	logger.Info("loaded tasks",
		zap.String("path", path),
		zap.Int("count", len(tasks)),
	)
	return tasks, nil
}
