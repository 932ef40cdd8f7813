package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/himanishpuri/acousticid/pkg/logger"
)

var audioExts = map[string]bool{
	".wav": true, ".wave": true, ".mp3": true, ".flac": true,
	".m4a": true, ".aac": true, ".ogg": true, ".opus": true,
}

type IndexCmd struct {
	Dir     string `arg:"" type:"existingdir" help:"Directory to scan recursively."`
	Workers int    `short:"w" default:"0" help:"Parallel ingestions (0 = NumCPU-1, at least 2)."`
}

type indexResult struct {
	path string
	id   uint32
	err  error
}

func (c *IndexCmd) Run(g *Globals) error {
	log := logger.GetLogger()

	files, err := collectAudioFiles(c.Dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no audio files under %s", c.Dir)
	}

	svc, err := g.createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	p := mpb.NewWithContext(g.ctx, mpb.WithWidth(64))
	bar := p.AddBar(int64(len(files)),
		mpb.PrependDecorators(
			decor.Name("Indexing: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
	)

	w := c.Workers
	if w <= 0 {
		w = runtime.NumCPU() - 1
		if w < 2 {
			w = 2
		}
	}

	jobs := make(chan string, len(files))
	results := make(chan indexResult, len(files))

	var wg sync.WaitGroup
	for i := 0; i < w; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if g.ctx.Err() != nil {
					results <- indexResult{path: path, err: g.ctx.Err()}
					continue
				}
				id, err := svc.AddSong(g.ctx, path, "", "")
				results <- indexResult{path: path, id: id, err: err}
			}
		}()
	}

	for _, f := range files {
		jobs <- f
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var failed []indexResult
	added := 0
	for r := range results {
		bar.Increment()
		if r.err != nil {
			log.Warnf("Skipping %s: %v", r.path, r.err)
			failed = append(failed, r)
			continue
		}
		added++
	}
	p.Wait()

	printSuccess(fmt.Sprintf("\n✅ Indexed %d of %d file(s)", added, len(files)))
	for _, r := range failed {
		fmt.Printf("   %s %s: %v\n", errorStyle.Render("✗"), r.path, r.err)
	}
	if g.ctx.Err() != nil {
		return g.ctx.Err()
	}
	return nil
}

// collectAudioFiles walks root and returns audio files in lexical order.
func collectAudioFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if audioExts[strings.ToLower(filepath.Ext(path))] {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}
