package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/himanishpuri/acousticid/pkg/acousticid"
	"github.com/himanishpuri/acousticid/pkg/acousticid/audio"
	"github.com/himanishpuri/acousticid/pkg/acousticid/fingerprint"
	"github.com/himanishpuri/acousticid/pkg/logger"
	"github.com/himanishpuri/acousticid/pkg/models"
)

type AddCmd struct {
	File   string `arg:"" optional:"" type:"existingfile" help:"Audio file to add."`
	URL    string `name:"url" help:"Download audio with yt-dlp instead of reading a file."`
	Title  string `help:"Song title (defaults to the file's tags, then its name)."`
	Artist string `help:"Artist name (defaults to the file's tags)."`
}

func (c *AddCmd) Validate() error {
	if (c.File == "") == (c.URL == "") {
		return fmt.Errorf("give either an audio file or --url")
	}
	return nil
}

func (c *AddCmd) Run(g *Globals) error {
	log := logger.GetLogger()

	svc, err := g.createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	var songID uint32
	if c.URL != "" {
		fmt.Println("📥 Downloading audio...")
		songID, err = svc.AddURL(g.ctx, c.URL, c.Title, c.Artist)
	} else {
		fmt.Println("🎵 Processing audio file...")
		songID, err = svc.AddSong(g.ctx, c.File, c.Title, c.Artist)
	}
	if err != nil {
		return fmt.Errorf("failed to add song: %w", err)
	}

	song, err := svc.GetSong(g.ctx, songID)
	if err != nil {
		return err
	}

	printSuccess("\n✅ Successfully added song to database!")
	printKV("ID", song.ID)
	printKV("Title", song.Title)
	printKV("Artist", song.Artist)
	if song.Album != "" {
		printKV("Album", song.Album)
	}
	printKV("Duration", formatDuration(song.DurationMs))
	log.Infof("Successfully added song ID=%d", songID)
	return nil
}

type MatchCmd struct {
	File       string `arg:"" type:"existingfile" help:"Audio clip to identify."`
	JSON       bool   `name:"json" help:"Print the full result as JSON."`
	Candidates bool   `help:"Show the scored candidate list."`
	Diagnose   bool   `help:"Probe the corpus for the clip's hashes."`
}

func (c *MatchCmd) Run(g *Globals) error {
	svc, err := g.createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	res, err := svc.MatchFile(g.ctx, c.File)
	if err != nil {
		return fmt.Errorf("failed to match: %w", err)
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if res.Matched {
		printSuccess(fmt.Sprintf("\n✅ Match: %q by %s", res.Title, res.Artist))
		printKV("Song ID", res.SongID)
	} else {
		fmt.Println(errorStyle.Render("\n❌ No match"))
		for _, r := range res.Reasons {
			fmt.Printf("   - %s\n", r)
		}
	}
	printKV("Aligned", res.Scores.Aligned)
	printKV("Final", fmt.Sprintf("%.2f", res.Scores.Final))
	printKV("Normalized", fmt.Sprintf("%.6f", res.Scores.Normalized))
	printKV("Ratio", fmt.Sprintf("%.4f", res.Scores.MatchRatio))
	printKV("Request", res.RequestID)

	if c.Candidates && len(res.Candidates) > 0 {
		fmt.Println(sectionStyle.Render("Candidates:"))
		for i, cand := range res.Candidates {
			fmt.Printf("%2d. %-30s final=%10.2f aligned=%5d clusters=%d offset=%dms\n",
				i+1, cand.Title, cand.FinalScore, cand.AlignedMatches, cand.ClusterCount, cand.BestOffsetMs)
		}
	}

	if c.Diagnose {
		buf, err := audio.Load(g.ctx, c.File, audio.Options{TempDir: g.TempDir, SampleRate: g.Rate})
		if err != nil {
			return err
		}
		fps, err := svc.Fingerprint(g.ctx, buf)
		if err != nil {
			return err
		}
		d, err := svc.Diagnose(g.ctx, fps)
		if err != nil {
			return err
		}
		printDiagnostics(d)
	}
	return nil
}

func printDiagnostics(d *acousticid.Diagnostics) {
	fmt.Println(sectionStyle.Render("Diagnostics:"))
	printKV("Songs", d.TotalSongs)
	printKV("Hashes", d.TotalFingerprints)
	printKV("Query", d.QueryFingerprints)
	printKV("Probed", fmt.Sprintf("%d (%d with postings, %d postings)", d.ProbedHashes, d.HashesWithHits, d.Postings))
	printKV("Scheme", d.HashScheme)
}

type ListCmd struct{}

func (c *ListCmd) Run(g *Globals) error {
	svc, err := g.createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	songs, err := svc.ListSongs(g.ctx)
	if err != nil {
		return fmt.Errorf("failed to list songs: %w", err)
	}

	if len(songs) == 0 {
		fmt.Println("\n📭 No songs in database")
		return nil
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("\n📚 Found %d song(s):\n", len(songs))))
	for i, song := range songs {
		fmt.Printf("%d. %q by %s (ID: %d)\n", i+1, song.Title, song.Artist, song.ID)
		if song.Album != "" {
			fmt.Printf("   Album: %s\n", song.Album)
		}
		if song.DurationMs > 0 {
			fmt.Printf("   Duration: %s\n", formatDuration(song.DurationMs))
		}
	}
	return nil
}

type DeleteCmd struct {
	ID uint32 `arg:"" help:"Song ID."`
}

func (c *DeleteCmd) Run(g *Globals) error {
	svc, err := g.createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	song, err := svc.GetSong(g.ctx, c.ID)
	if err != nil {
		return fmt.Errorf("song %d: %w", c.ID, err)
	}
	if err := svc.DeleteSong(g.ctx, c.ID); err != nil {
		return fmt.Errorf("failed to delete song: %w", err)
	}

	printSuccess("\n✅ Successfully deleted song:")
	printKV("ID", song.ID)
	printKV("Title", song.Title)
	printKV("Artist", song.Artist)
	logger.Infof("Deleted song ID=%d ('%s' by '%s')", song.ID, song.Title, song.Artist)
	return nil
}

type StatsCmd struct{}

func (c *StatsCmd) Run(g *Globals) error {
	svc, err := g.createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	stats, err := svc.Stats(g.ctx)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Corpus"))
	printKV("Backend", g.Backend)
	printKV("Songs", stats.TotalSongs)
	printKV("Hashes", stats.TotalFingerprints)
	return nil
}

// FingerprintCmd needs no index; its output is the request body of
// POST /api/match/fingerprints.
type FingerprintCmd struct {
	File   string `arg:"" type:"existingfile" help:"Audio file to fingerprint."`
	Out    string `short:"o" type:"path" help:"Write JSON here instead of stdout."`
	Scheme string `default:"sha1-v1" enum:"sha1-v1,xxh32-v2" help:"Hash scheme."`
}

type fingerprintOutput struct {
	Scheme       string               `json:"scheme"`
	SampleRate   float64              `json:"sample_rate"`
	DurationMs   int                  `json:"duration_ms"`
	Fingerprints []models.Fingerprint `json:"fingerprints"`
}

func (c *FingerprintCmd) Run(g *Globals) error {
	scheme, err := fingerprint.ParseScheme(c.Scheme)
	if err != nil {
		return err
	}
	cfg := fingerprint.DefaultConfig()
	cfg.Scheme = scheme
	gen, err := fingerprint.NewGenerator(cfg)
	if err != nil {
		return err
	}

	buf, err := audio.Load(g.ctx, c.File, audio.Options{TempDir: g.TempDir, SampleRate: g.Rate})
	if err != nil {
		return fmt.Errorf("failed to read audio: %w", err)
	}
	fps, err := gen.Generate(g.ctx, buf)
	if err != nil {
		return err
	}

	w := os.Stdout
	if c.Out != "" {
		f, err := os.Create(c.Out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(fingerprintOutput{
		Scheme:       gen.Config().Scheme.String(),
		SampleRate:   buf.SampleRate,
		DurationMs:   buf.DurationMs(),
		Fingerprints: fps,
	}); err != nil {
		return err
	}
	if c.Out != "" {
		printSuccess(fmt.Sprintf("✅ Wrote %d fingerprints to %s", len(fps), c.Out))
	}
	return nil
}
