package cli

import (
	"bufio"
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/closetconnect/closet-tracker/internal/config"
	"github.com/closetconnect/closet-tracker/internal/models"
	"github.com/closetconnect/closet-tracker/internal/review"
)

// runCLI executes the full command tree with args and returns stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	AddCommands(root)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func isolateHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	t.Setenv("APPDATA", dir)
	t.Setenv(config.TokenEnvVar, "")
	t.Setenv(config.EnvAPIURL, "")
	t.Setenv(config.EnvWSURL, "")
	t.Setenv(config.EnvStorageDir, "")
	return dir
}

func TestParseClothID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"12", 12, false},
		{"#7", 7, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseClothID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseClothID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestParseUploadImageType(t *testing.T) {
	got, err := parseUploadImageType(" single_item ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != models.UploadSingleItem {
		t.Errorf("Expected %s, got %s", models.UploadSingleItem, got)
	}

	if _, err := parseUploadImageType("PORTRAIT"); !errors.Is(err, errUnknownUploadType) {
		t.Errorf("Expected errUnknownUploadType, got %v", err)
	}
}

func TestPrintUploads(t *testing.T) {
	now := time.UnixMilli(1_700_000_060_000)

	var empty bytes.Buffer
	printUploads(&empty, nil, now)
	if strings.TrimSpace(empty.String()) != "No tracked uploads" {
		t.Errorf("Expected empty message, got %q", empty.String())
	}

	var buf bytes.Buffer
	printUploads(&buf, []models.UploadRecord{
		{ClothID: 3, Status: models.StatusProcessing, CurrentStep: "Segmenting", ProgressPercentage: 40, Timestamp: 1_700_000_000_000},
		{ClothID: 4, Status: models.StatusFailed, CurrentStep: "Inpainting", ErrorMessage: "model timeout", Timestamp: 1_700_000_030_000},
	}, now)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header and 2 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "CLOTH") {
		t.Errorf("Expected header first, got %q", lines[0])
	}
	for _, want := range []string{"3", "processing", "40%", "Segmenting", "1m0s"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("Expected row %q to contain %q", lines[1], want)
		}
	}
	if !strings.Contains(lines[2], "model timeout") || strings.Contains(lines[2], "Inpainting") {
		t.Errorf("Expected failed row to show the error instead of the step, got %q", lines[2])
	}
}

func TestPrintReviewHint(t *testing.T) {
	var buf bytes.Buffer
	printReviewHint(&buf, []models.UploadRecord{
		{ClothID: 1, Status: models.StatusProcessing},
		{ClothID: 2, Status: models.StatusReadyForReview},
	})
	if got := buf.String(); got != "Cloth #2 is ready: closet-tracker review 2\n" {
		t.Errorf("Unexpected hint: %q", got)
	}
}

func TestProcessingCount(t *testing.T) {
	n := processing([]models.UploadRecord{
		{ClothID: 1, Status: models.StatusProcessing},
		{ClothID: 2, Status: models.StatusFailed},
		{ClothID: 3, Status: models.StatusProcessing},
	})
	if n != 2 {
		t.Errorf("Expected 2, got %d", n)
	}
}

func TestPromptYesNo(t *testing.T) {
	tests := []struct {
		input string
		def   bool
		want  bool
	}{
		{"\n", true, true},
		{"\n", false, false},
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", true, false},
		{"maybe\n", true, true},
		{"no", true, false},
	}

	for _, tt := range tests {
		got, err := promptYesNo(bufio.NewReader(strings.NewReader(tt.input)), &bytes.Buffer{}, "Continue?", tt.def)
		if err != nil {
			t.Fatalf("promptYesNo(%q) error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("promptYesNo(%q, %t): Expected %t, got %t", tt.input, tt.def, tt.want, got)
		}
	}
}

func TestPromptLineEOF(t *testing.T) {
	if _, err := promptLine(bufio.NewReader(strings.NewReader("")), &bytes.Buffer{}, "> "); err == nil {
		t.Error("Expected error on empty input")
	}
}

func TestChooseOption(t *testing.T) {
	r := &review.Review{
		ClothID:           9,
		Name:              "Denim jacket",
		SuggestedCategory: models.CategoryOuter,
		Options: []review.Option{
			{Type: models.ImageSegmented, URL: "https://cdn.test/9-seg.png", Label: "Segmented"},
			{Type: models.ImageInpainted, URL: "https://cdn.test/9-inp.png", Label: "Inpainted"},
		},
	}

	t.Run("retries invalid input", func(t *testing.T) {
		var out bytes.Buffer
		opt, ok, err := chooseOption(bufio.NewReader(strings.NewReader("7\n2\n")), &out, r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok || opt.Type != models.ImageInpainted {
			t.Errorf("Expected inpainted option, got %+v (ok=%t)", opt, ok)
		}
		if !strings.Contains(out.String(), "Invalid choice") {
			t.Errorf("Expected invalid choice message, got %q", out.String())
		}
	})

	t.Run("enter means default", func(t *testing.T) {
		_, ok, err := chooseOption(bufio.NewReader(strings.NewReader("\n")), &bytes.Buffer{}, r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("Expected no selection")
		}
	})
}

func TestDescribeActionError(t *testing.T) {
	retryable := &review.ActionError{Action: "confirm", ClothID: 5, Err: errors.New("connection reset")}
	err := describeActionError(retryable)
	if !errors.Is(err, retryable) {
		t.Errorf("Expected wrapped action error, got %v", err)
	}

	plain := errors.New("boom")
	if describeActionError(plain) != plain {
		t.Error("Expected non-action errors to pass through")
	}
}

func TestConfigPathCommand(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "tracker.conf")

	out, err := runCLI(t, "", "config", "path", "--config", path)
	if err != nil {
		t.Fatalf("config path failed: %v", err)
	}
	if strings.TrimSpace(out) != path {
		t.Errorf("Expected %s, got %q", path, out)
	}
}

func TestConfigInitDefaults(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "tracker.conf")

	out, err := runCLI(t, "", "config", "init", "--defaults", "--config", path)
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out, "Configuration saved to") {
		t.Errorf("Expected saved message, got %q", out)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.APIURL != config.NewConfig().Server.APIURL {
		t.Errorf("Expected default API URL, got %s", cfg.Server.APIURL)
	}

	out, err = runCLI(t, "", "config", "init", "--defaults", "--config", path)
	if err != nil {
		t.Fatalf("second config init failed: %v", err)
	}
	if !strings.Contains(out, "already exists") {
		t.Errorf("Expected existing file to be kept, got %q", out)
	}
}

func TestConfigInitInteractive(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "tracker.conf")

	stdin := "http://api.test:9000\n\n5\nn\n"
	if _, err := runCLI(t, stdin, "config", "init", "--config", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.APIURL != "http://api.test:9000" {
		t.Errorf("Expected API URL from prompt, got %s", cfg.Server.APIURL)
	}
	if cfg.Server.WSURL != "" {
		t.Errorf("Expected derived WS URL to stay empty, got %s", cfg.Server.WSURL)
	}
	if cfg.Tracker.FailureGraceSeconds != 5 {
		t.Errorf("Expected grace 5, got %d", cfg.Tracker.FailureGraceSeconds)
	}
	if cfg.Notifications.Enabled {
		t.Error("Expected notifications disabled")
	}
}

func TestConfigInitRejectsBadNumber(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "tracker.conf")

	if _, err := runCLI(t, "\n\nsoon\n", "config", "init", "--config", path); err == nil {
		t.Error("Expected error for a non-numeric grace delay")
	}
}

func TestConfigShowHidesToken(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "tracker.conf")
	token := "header.payload.signature"

	out, err := runCLI(t, "", "config", "show", "--config", path, "--token", token)
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if strings.Contains(out, token) {
		t.Error("Token must never be printed")
	}
	if !strings.Contains(out, "from flag") {
		t.Errorf("Expected token source, got:\n%s", out)
	}
	if !strings.Contains(out, "/ws/websocket") && !strings.Contains(out, "ws://") {
		t.Errorf("Expected derived websocket URL, got:\n%s", out)
	}

	out, err = runCLI(t, "", "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "<not set>") {
		t.Errorf("Expected missing token, got:\n%s", out)
	}
}

func TestConfigShowAPIURLOverride(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "tracker.conf")

	out, err := runCLI(t, "", "config", "show", "--config", path, "--api-url", "https://closet.example.com")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "https://closet.example.com") || !strings.Contains(out, "wss://closet.example.com") {
		t.Errorf("Expected overridden URLs, got:\n%s", out)
	}

	if _, err := runCLI(t, "", "config", "show", "--config", path, "--api-url", "ftp://nope"); err == nil {
		t.Error("Expected invalid --api-url to fail")
	}
}

func TestListAnonymousEmpty(t *testing.T) {
	home := isolateHome(t)
	t.Setenv(config.EnvStorageDir, filepath.Join(home, "storage"))
	path := filepath.Join(t.TempDir(), "tracker.conf")

	out, err := runCLI(t, "", "list", "--config", path)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if strings.TrimSpace(out) != "No tracked uploads" {
		t.Errorf("Expected empty list, got %q", out)
	}
}

func TestUploadRequiresLogin(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "tracker.conf")

	_, err := runCLI(t, "", "track", "5", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "not logged in") {
		t.Errorf("Expected not logged in error, got %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "", "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "closet-tracker ") {
		t.Errorf("Unexpected version output %q", out)
	}
}
