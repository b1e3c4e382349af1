package cli

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sdejongh/kopier/internal/platform"
	"github.com/sdejongh/kopier/pkg/config"
	"github.com/sdejongh/kopier/pkg/copyjob"
	"github.com/sdejongh/kopier/pkg/journal"
	"github.com/sdejongh/kopier/pkg/logging"
	"github.com/sdejongh/kopier/pkg/models"
	"github.com/sdejongh/kopier/pkg/storage"
)

func TestParseLocations(t *testing.T) {
	if _, _, err := parseLocations([]string{"only"}); err == nil {
		t.Error("parseLocations() should need a destination")
	}

	sources, dest, err := parseLocations([]string{"a.txt", "s3://bucket/in", "/tmp/out"})
	if err != nil {
		t.Fatalf("parseLocations() error = %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(sources))
	}
	if sources[0].Scheme != platform.SchemeFile || !filepath.IsAbs(platform.LocalPath(sources[0])) {
		t.Errorf("relative source not made absolute: %s", sources[0].String())
	}
	if sources[1].Scheme != "s3" || sources[1].Host != "bucket" {
		t.Errorf("s3 source = %s", sources[1].String())
	}
	if dest.Scheme != platform.SchemeFile {
		t.Errorf("dest = %s", dest.String())
	}
}

func TestValidateLocations(t *testing.T) {
	src := platform.FromLocalPath("/data/photos")
	s3 := url.URL{Scheme: "s3", Host: "bucket", Path: "/photos"}

	tests := []struct {
		name    string
		mode    models.JobMode
		sources []url.URL
		dest    url.URL
		as      bool
		wantErr bool
	}{
		{"copy to sibling", models.ModeCopy, []url.URL{src}, platform.FromLocalPath("/backup"), false, false},
		{"copy to parent", models.ModeCopy, []url.URL{src}, platform.FromLocalPath("/data"), false, false},
		{"copy into itself", models.ModeCopy, []url.URL{src}, src, false, true},
		{"copy below itself", models.ModeMove, []url.URL{src}, platform.FromLocalPath("/data/photos/2024"), false, true},
		{"prefix is not a parent", models.ModeCopy, []url.URL{src}, platform.FromLocalPath("/data/photos-old"), false, false},
		{"copy as itself", models.ModeCopy, []url.URL{src}, src, true, false},
		{"as with two sources", models.ModeCopy, []url.URL{src, src}, platform.FromLocalPath("/x"), true, true},
		{"copy to s3", models.ModeCopy, []url.URL{src}, s3, false, false},
		{"link across backends", models.ModeLink, []url.URL{src}, s3, false, true},
		{"link into own dir", models.ModeLink, []url.URL{src}, src, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateLocations(tt.mode, tt.sources, tt.dest, tt.as)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateLocations() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyTransferFlags(t *testing.T) {
	saved := globalFlags
	t.Cleanup(func() { globalFlags = saved })

	globalFlags = GlobalFlags{Quiet: true, LogFile: "/tmp/kopier.log"}
	cfg := config.Default()
	applyTransferFlags(cfg, &TransferFlags{
		Conflict:     "rename",
		Bandwidth:    "10M",
		Output:       "json",
		MetricsAddr:  ":9090",
		NoJournal:    true,
		DefaultPerms: true,
		SkipSame:     "hash",
	})

	if cfg.Transfer.Conflict != models.PolicyRename {
		t.Errorf("Conflict = %s", cfg.Transfer.Conflict)
	}
	if cfg.Transfer.Bandwidth != "10M" || cfg.Output.Format != "json" || cfg.Metrics.Listen != ":9090" {
		t.Errorf("transfer flags not applied: %+v", cfg)
	}
	if cfg.Transfer.SkipIdentical != "hash" {
		t.Errorf("SkipIdentical = %q, want hash", cfg.Transfer.SkipIdentical)
	}
	if !cfg.Transfer.DefaultPermissions || cfg.Journal.Enabled {
		t.Error("DefaultPermissions should be set and the journal disabled")
	}
	if !cfg.Output.Quiet || cfg.Output.Progress {
		t.Error("quiet should disable progress")
	}
	if !cfg.Logging.Enabled || cfg.Logging.File != "/tmp/kopier.log" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestApplyTransferFlagsKeepsConfig(t *testing.T) {
	saved := globalFlags
	t.Cleanup(func() { globalFlags = saved })
	globalFlags = GlobalFlags{}

	cfg := config.Default()
	cfg.Transfer.Conflict = models.PolicySkip
	applyTransferFlags(cfg, &TransferFlags{})

	if cfg.Transfer.Conflict != models.PolicySkip {
		t.Errorf("Conflict = %s, want skip", cfg.Transfer.Conflict)
	}
	if !cfg.Journal.Enabled || cfg.Logging.Enabled {
		t.Error("defaults should be kept")
	}
}

func fileConflict() models.ConflictRequest {
	return models.ConflictRequest{
		Kind:           models.ConflictFile,
		Source:         platform.FromLocalPath("/src/a.txt"),
		Dest:           platform.FromLocalPath("/dst/a.txt"),
		SourceSize:     2048,
		DestSize:       12,
		Multi:          true,
		AllowSkip:      true,
		AllowOverwrite: true,
	}
}

func TestPromptResolverAskRename(t *testing.T) {
	itself := fileConflict()
	itself.AllowOverwrite = false
	itself.AllowOverwriteItself = true

	tests := []struct {
		name     string
		input    string
		req      models.ConflictRequest
		want     models.DecisionAction
		wantName string
	}{
		{"overwrite", "o\n", fileConflict(), models.DecisionOverwrite, ""},
		{"overwrite all", "a\n", fileConflict(), models.DecisionOverwriteAll, ""},
		{"skip by label", "Skip\n", fileConflict(), models.DecisionSkip, ""},
		{"skip all", "k\n", fileConflict(), models.DecisionAutoSkip, ""},
		{"rename", "r\n\nb.txt\n", fileConflict(), models.DecisionRename, "b.txt"},
		{"auto rename", "n\n", fileConflict(), models.DecisionAutoRename, ""},
		{"unknown then cancel", "x\nc\n", fileConflict(), models.DecisionCancel, ""},
		{"overwrite itself", "o\n", itself, models.DecisionOverwriteItself, ""},
		{"last line without newline", "s", fileConflict(), models.DecisionSkip, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			p := NewPromptResolver(strings.NewReader(tt.input), &out)

			d, err := p.AskRename(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("AskRename() error = %v", err)
			}
			if d.Action != tt.want {
				t.Errorf("Action = %s, want %s", d.Action, tt.want)
			}
			if d.NewName != tt.wantName {
				t.Errorf("NewName = %q, want %q", d.NewName, tt.wantName)
			}
			if !strings.Contains(out.String(), "already exists") {
				t.Errorf("prompt output = %q", out.String())
			}
		})
	}
}

func TestPromptResolverHidesUnavailableChoices(t *testing.T) {
	req := fileConflict()
	req.Multi = false
	req.AllowSkip = false

	var out strings.Builder
	p := NewPromptResolver(strings.NewReader("k\ns\no\n"), &out)
	d, err := p.AskRename(context.Background(), req)
	if err != nil {
		t.Fatalf("AskRename() error = %v", err)
	}
	if d.Action != models.DecisionOverwrite {
		t.Errorf("Action = %s, want overwrite", d.Action)
	}
	if strings.Count(out.String(), "Unknown answer") != 2 {
		t.Errorf("skip choices should be refused: %q", out.String())
	}
}

func TestPromptResolverEndOfInput(t *testing.T) {
	p := NewPromptResolver(strings.NewReader(""), &strings.Builder{})
	if _, err := p.AskRename(context.Background(), fileConflict()); !errors.Is(err, errNoAnswer) {
		t.Errorf("AskRename() error = %v, want errNoAnswer", err)
	}
}

func TestPromptResolverAskSkip(t *testing.T) {
	req := models.SkipRequest{
		Source: platform.FromLocalPath("/src/a.txt"),
		Err:    errors.New("permission denied"),
		Multi:  true,
	}

	var out strings.Builder
	p := NewPromptResolver(strings.NewReader("a\n"), &out)
	d, err := p.AskSkip(context.Background(), req)
	if err != nil {
		t.Fatalf("AskSkip() error = %v", err)
	}
	if d.Action != models.DecisionAutoSkip {
		t.Errorf("Action = %s, want auto-skip", d.Action)
	}
	if !strings.Contains(out.String(), "permission denied") {
		t.Errorf("prompt should show the failure: %q", out.String())
	}
}

func TestNewResolver(t *testing.T) {
	ctx := context.Background()

	r := newResolver(models.PolicyAsk, nil)
	if _, err := r.AskRename(ctx, fileConflict()); !errors.Is(err, copyjob.ErrNotInteractive) {
		t.Errorf("ask without a terminal should fail, got %v", err)
	}

	r = newResolver(models.PolicyRename, nil)
	d, err := r.AskRename(ctx, fileConflict())
	if err != nil || d.Action != models.DecisionAutoRename {
		t.Errorf("AskRename() = %v, %v", d, err)
	}

	asker, ok := newResolver(models.PolicySkip, nil).(copyjob.SkipAsker)
	if !ok {
		t.Fatal("resolver should answer skip requests")
	}
	d, err = asker.AskSkip(ctx, models.SkipRequest{Err: errors.New("boom")})
	if err != nil || d.Action != models.DecisionAutoSkip {
		t.Errorf("AskSkip() = %v, %v", d, err)
	}
}

func TestInstrumentedResolverWithoutSkipAsker(t *testing.T) {
	inner := copyjob.ResolverFunc(func(ctx context.Context, req models.ConflictRequest) (models.Decision, error) {
		return models.Decision{Action: models.DecisionSkip}, nil
	})
	r := instrumentedResolver{inner: inner}

	cause := errors.New("disk full")
	if _, err := r.AskSkip(context.Background(), models.SkipRequest{Err: cause}); !errors.Is(err, cause) {
		t.Errorf("AskSkip() error = %v, want the original failure", err)
	}
	if d, _ := r.AskRename(context.Background(), fileConflict()); d.Action != models.DecisionSkip {
		t.Errorf("AskRename() = %s, want skip", d.Action)
	}
}

func TestSizeString(t *testing.T) {
	tests := map[int64]string{
		-1:          "unknown size",
		512:         "512 B",
		2048:        "2.0 KiB",
		5 * 1 << 20: "5.0 MiB",
	}
	for n, want := range tests {
		if got := sizeString(n); got != want {
			t.Errorf("sizeString(%d) = %q, want %q", n, got, want)
		}
	}
}

func writeBatch(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadBatchFile(t *testing.T) {
	path := writeBatch(t, `
jobs:
  - mode: copy
    sources: [a, b]
    dest: /backup
  - mode: move
    sources: [inbox/report.pdf]
    dest: archive/report.pdf
    as: true
    conflict: rename
`)

	batch, err := loadBatchFile(path)
	if err != nil {
		t.Fatalf("loadBatchFile() error = %v", err)
	}
	if len(batch.Jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(batch.Jobs))
	}
	second := batch.Jobs[1]
	if second.Mode != models.ModeMove || !second.As || second.Conflict != "rename" {
		t.Errorf("second job = %+v", second)
	}

	sources, dest, err := batch.Jobs[0].locations()
	if err != nil {
		t.Fatalf("locations() error = %v", err)
	}
	if len(sources) != 2 || dest.Path != "/backup" {
		t.Errorf("locations() = %v, %v", sources, dest)
	}
}

func TestLoadBatchFileErrors(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"no jobs":        "jobs: []\n",
		"unknown key":    "jobs:\n  - mode: copy\n    sources: [a]\n    dest: b\n    parallel: 2\n",
		"bad mode":       "jobs:\n  - mode: sync\n    sources: [a]\n    dest: b\n",
		"bad conflict":   "jobs:\n  - mode: copy\n    sources: [a]\n    dest: b\n    conflict: newer\n",
		"missing dest":   "jobs:\n  - mode: copy\n    sources: [a]\n",
		"missing source": "jobs:\n  - mode: copy\n    dest: b\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := loadBatchFile(writeBatch(t, content)); err == nil {
				t.Error("loadBatchFile() should fail")
			}
		})
	}

	if _, err := loadBatchFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("loadBatchFile() should fail for a missing file")
	}
}

func TestConfirm(t *testing.T) {
	tests := map[string]bool{
		"y\n":   true,
		"YES\n": true,
		"n\n":   false,
		"\n":    false,
		"":      false,
	}
	for input, want := range tests {
		var out strings.Builder
		if got := confirm(strings.NewReader(input), &out, "Undo?"); got != want {
			t.Errorf("confirm(%q) = %v, want %v", input, got, want)
		}
		if !strings.Contains(out.String(), "[y/N]") {
			t.Errorf("question not printed: %q", out.String())
		}
	}
}

func TestJournalLocations(t *testing.T) {
	j := journal.New("job", models.ModeMove)
	j.Entries = []journal.Entry{
		{Kind: journal.KindDir, Dest: "s3://bucket/dir"},
		{Kind: journal.KindMoved, Source: "file:///src/a", Dest: "s3://bucket/dir/a"},
	}

	locations, err := journalLocations(j)
	if err != nil {
		t.Fatalf("journalLocations() error = %v", err)
	}
	if len(locations) != 3 {
		t.Fatalf("got %d locations, want 3", len(locations))
	}
	if locations[1].Scheme != platform.SchemeFile || locations[2].Host != "bucket" {
		t.Errorf("locations = %v", locations)
	}
}

func TestBuildFileSystem(t *testing.T) {
	cfg := config.Default()
	ctx := context.Background()

	fs, err := buildFileSystem(ctx, cfg, nil, platform.FromLocalPath("/tmp"))
	if err != nil {
		t.Fatalf("buildFileSystem() error = %v", err)
	}
	if _, err := fs.Backend(platform.FromLocalPath("/tmp")); err != nil {
		t.Errorf("local backend missing: %v", err)
	}
	if _, err := fs.Backend(url.URL{Scheme: "s3", Host: "b"}); err == nil {
		t.Error("s3 backend should only be set up when needed")
	}

	if _, err := buildFileSystem(ctx, cfg, nil, url.URL{Scheme: "ftp", Host: "h", Path: "/x"}); err == nil {
		t.Error("buildFileSystem() should reject unknown schemes")
	}
}

func TestJobOptionsSkipIdentical(t *testing.T) {
	cfg := config.Default()
	fs := storage.NewMux()

	opts, err := jobOptions(cfg, logging.Nop, fs)
	if err != nil {
		t.Fatalf("jobOptions() error = %v", err)
	}
	if opts.SameContent != nil {
		t.Error("content should not be compared by default")
	}

	cfg.Transfer.SkipIdentical = "binary"
	if opts, err = jobOptions(cfg, logging.Nop, fs); err != nil || opts.SameContent == nil {
		t.Errorf("jobOptions() = %v, want a content comparison", err)
	}

	cfg.Transfer.SkipIdentical = "md5"
	if _, err := jobOptions(cfg, logging.Nop, fs); err == nil {
		t.Error("jobOptions() should reject unknown methods")
	}
}

func TestCommandsWiring(t *testing.T) {
	for _, cmd := range []struct {
		name string
		use  string
	}{
		{NewCopyCommand().Name(), "copy"},
		{NewMoveCommand().Name(), "move"},
		{NewLinkCommand().Name(), "link"},
		{NewBatchCommand().Name(), "batch"},
		{NewUndoCommand().Name(), "undo"},
	} {
		if cmd.name != cmd.use {
			t.Errorf("command name = %s, want %s", cmd.name, cmd.use)
		}
	}

	copyCmd := NewCopyCommand()
	for _, flag := range []string{"as", "conflict", "bandwidth", "output", "metrics-addr", "journal", "no-journal", "default-perms"} {
		if copyCmd.Flags().Lookup(flag) == nil {
			t.Errorf("copy command lacks --%s", flag)
		}
	}
	if err := copyCmd.Args(copyCmd, []string{"only-one"}); err == nil {
		t.Error("copy should need a source and a destination")
	}
}
