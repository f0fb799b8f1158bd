package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"system-toolbox/internal/config"
	"system-toolbox/internal/database"
	"system-toolbox/internal/exitcodes"
	"system-toolbox/internal/process"
	"system-toolbox/internal/recyclebin"
	"system-toolbox/internal/scheduler"
	"system-toolbox/internal/web/auth"
)

type fakeBin struct {
	info    recyclebin.Info
	emptied int
}

func (b *fakeBin) Query() (recyclebin.Info, error) { return b.info, nil }

func (b *fakeBin) Empty(ctx context.Context, opts recyclebin.Options) (recyclebin.Result, error) {
	res := recyclebin.Result{Before: b.info, DryRun: opts.DryRun}
	if opts.DryRun {
		return res, nil
	}
	b.emptied++
	res.BytesFreed, res.Items = b.info.Size, b.info.Items
	return res, nil
}

type fixture struct {
	t       *testing.T
	root    string
	dbPath  string
	cfgPath string
	bin     *fakeBin
	stdout  bytes.Buffer
	stderr  bytes.Buffer
}

const fixtureConfig = `temp_locations:
  - name: user_temp
    path: %ROOT%
    enabled: true
%EXTRA%browsers: []
recycle_bin:
  enabled: true
database_path: %DB%
logging:
  level: error
api:
  jwt_secret: test-secret
  api_keys:
    - name: ops
      key: ops-key
      roles: [operator]
`

func newFixture(t *testing.T, extraTargets string) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		root:   t.TempDir(),
		dbPath: filepath.Join(t.TempDir(), "history.db"),
		bin:    &fakeBin{info: recyclebin.Info{Size: 1024, Items: 3}},
	}
	f.cfgPath = filepath.Join(t.TempDir(), "config.yaml")
	body := strings.NewReplacer("%ROOT%", f.root, "%DB%", f.dbPath, "%EXTRA%", extraTargets).Replace(fixtureConfig)
	if err := os.WriteFile(f.cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	old := time.Now().AddDate(0, 0, -30)
	f.writeFile("stale.tmp", 100, old)
	f.writeFile("fresh.tmp", 50, time.Now())
	f.writeFile("tool.exe", 70, old)
	return f
}

func (f *fixture) writeFile(name string, size int, mtime time.Time) {
	f.t.Helper()
	p := filepath.Join(f.root, name)
	if err := os.WriteFile(p, bytes.Repeat([]byte("x"), size), 0o644); err != nil {
		f.t.Fatal(err)
	}
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		f.t.Fatal(err)
	}
}

func (f *fixture) exists(name string) bool {
	_, err := os.Stat(filepath.Join(f.root, name))
	return err == nil
}

func (f *fixture) run(args ...string) int {
	f.stdout.Reset()
	f.stderr.Reset()
	a := newApp(BuildInfo{Version: "1.2.3", Commit: "abc", Date: "2026-01-01"}, &f.stdout, &f.stderr)
	a.bin = f.bin
	a.terminator = process.NoopTerminator{}
	return execute(context.Background(), a, append(args, "--config", f.cfgPath))
}

func TestCleanCommand(t *testing.T) {
	f := newFixture(t, "")

	if code := f.run("clean", "user_temp"); code != exitcodes.Success {
		t.Fatalf("exit code = %d, stderr: %s", code, f.stderr.String())
	}

	if f.exists("stale.tmp") {
		t.Error("stale.tmp should have been deleted")
	}
	if !f.exists("fresh.tmp") || !f.exists("tool.exe") {
		t.Error("recent files and excluded extensions must be kept")
	}
	out := f.stdout.String()
	for _, want := range []string{"Cleaning complete", "Cleaned: 1", "Skipped: 2", "user_temp"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	db, err := database.NewHistoryDB(f.dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	runs, err := db.GetRecentRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Trigger != scheduler.TriggerCLI || runs[0].Cleaned != 1 {
		t.Errorf("history = %+v, expected one cli run with 1 cleaned", runs)
	}
}

func TestCleanCommandTargetNameIgnoresCase(t *testing.T) {
	f := newFixture(t, "")

	if code := f.run("clean", "USER_TEMP"); code != exitcodes.Success {
		t.Fatalf("exit code = %d, stderr: %s", code, f.stderr.String())
	}
	if f.exists("stale.tmp") {
		t.Error("stale.tmp should have been deleted")
	}
}

func TestCleanCommandDryRun(t *testing.T) {
	f := newFixture(t, "")

	if code := f.run("clean", "--temp", "--dry-run"); code != exitcodes.Success {
		t.Fatalf("exit code = %d, stderr: %s", code, f.stderr.String())
	}
	if !f.exists("stale.tmp") {
		t.Error("dry run deleted stale.tmp")
	}
	if !strings.Contains(f.stdout.String(), "Dry run complete") {
		t.Errorf("unexpected report:\n%s", f.stdout.String())
	}
	if f.bin.emptied != 0 {
		t.Error("--temp must not touch the recycle bin")
	}
}

func TestCleanCommandPolicyFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "max age above file age", args: []string{"--max-age", "60"}},
		{name: "extra excluded extension", args: []string{"--exclude-ext", "tmp"}},
		{name: "extra safe path", args: []string{"--safe-path", "ROOT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			args := []string{"clean", "user_temp"}
			for _, a := range tt.args {
				args = append(args, strings.Replace(a, "ROOT", f.root, 1))
			}
			if code := f.run(args...); code != exitcodes.Success {
				t.Fatalf("exit code = %d, stderr: %s", code, f.stderr.String())
			}
			if !f.exists("stale.tmp") {
				t.Error("stale.tmp should have been kept")
			}
		})
	}
}

func TestCleanCommandExitCodes(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		args  []string
		want  int
	}{
		{name: "unknown target", args: []string{"clean", "nope"}, want: exitcodes.InvalidConfig},
		{name: "names with category flag", args: []string{"clean", "user_temp", "--temp"}, want: exitcodes.InvalidConfig},
		{name: "unknown flag", args: []string{"clean", "--force"}, want: exitcodes.InvalidConfig},
		{name: "relative safe path", args: []string{"clean", "--safe-path", "rel/dir"}, want: exitcodes.InvalidConfig},
		{name: "negative max age", args: []string{"clean", "--max-age=-1"}, want: exitcodes.InvalidConfig},
		{
			name:  "missing root",
			extra: "  - name: gone\n    path: /definitely/not/here/toolbox\n    enabled: true\n",
			args:  []string{"clean", "--temp"},
			want:  exitcodes.PartialFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.extra)
			if code := f.run(tt.args...); code != tt.want {
				t.Errorf("exit code = %d, expected %d (stderr: %s)", code, tt.want, f.stderr.String())
			}
		})
	}
}

func TestInvalidConfigFile(t *testing.T) {
	f := newFixture(t, "")
	if err := os.WriteFile(f.cfgPath, []byte("bogus_key: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if code := f.run("scan"); code != exitcodes.InvalidConfig {
		t.Errorf("exit code = %d, expected %d", code, exitcodes.InvalidConfig)
	}
}

func TestRecycleCommand(t *testing.T) {
	f := newFixture(t, "")

	if code := f.run("recycle", "--query"); code != exitcodes.Success {
		t.Fatalf("exit code = %d, stderr: %s", code, f.stderr.String())
	}
	if !strings.Contains(f.stdout.String(), "3 items, 1.00 KB") {
		t.Errorf("unexpected query output: %q", f.stdout.String())
	}
	if f.bin.emptied != 0 {
		t.Fatal("--query emptied the bin")
	}

	if code := f.run("recycle"); code != exitcodes.Success {
		t.Fatalf("exit code = %d, stderr: %s", code, f.stderr.String())
	}
	if f.bin.emptied != 1 {
		t.Errorf("emptied = %d, expected 1", f.bin.emptied)
	}
	if !f.exists("stale.tmp") {
		t.Error("recycle must not clean temp locations")
	}
}

func TestScanCommandJSON(t *testing.T) {
	f := newFixture(t, "")

	if code := f.run("scan", "--json"); code != exitcodes.Success {
		t.Fatalf("exit code = %d, stderr: %s", code, f.stderr.String())
	}
	var entries []scheduler.ScanEntry
	if err := json.Unmarshal(f.stdout.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v\n%s", err, f.stdout.String())
	}
	got := map[string]scheduler.ScanEntry{}
	for _, e := range entries {
		got[e.Name] = e
	}
	if e := got["user_temp"]; e.Files != 3 || e.Bytes != 220 {
		t.Errorf("user_temp = %+v, expected 3 files and 220 bytes", e)
	}
	if e := got[scheduler.RecycleBinTarget]; e.Files != 3 || e.Bytes != 1024 {
		t.Errorf("recycle_bin = %+v", e)
	}
	if !f.exists("stale.tmp") {
		t.Error("scan deleted a file")
	}
}

func TestTokenCommand(t *testing.T) {
	f := newFixture(t, "")
	tokens, err := auth.NewJWTManager("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatal(err)
	}

	if code := f.run("token", "--key", "ops-key"); code != exitcodes.Success {
		t.Fatalf("exit code = %d, stderr: %s", code, f.stderr.String())
	}
	claims, err := tokens.ValidateToken(strings.TrimSpace(f.stdout.String()))
	if err != nil {
		t.Fatalf("issued token invalid: %v", err)
	}
	if claims.Name != "ops" || !auth.HasPermission(claims.Roles, auth.PermissionTriggerClean) {
		t.Errorf("claims = %+v", claims)
	}

	if code := f.run("token", "--role", "root"); code != exitcodes.InvalidConfig {
		t.Errorf("unknown role exit code = %d", code)
	}
	if code := f.run("token", "--key", "wrong"); code == exitcodes.Success {
		t.Error("wrong key should fail")
	}
}

func TestVersionCommand(t *testing.T) {
	f := newFixture(t, "")
	if code := f.run("version"); code != exitcodes.Success {
		t.Fatalf("exit code = %d", code)
	}
	if got := f.stdout.String(); got != "toolbox 1.2.3 (abc) built 2026-01-01\n" {
		t.Errorf("version output = %q", got)
	}
}

func TestSelectTargets(t *testing.T) {
	cfg := &config.Config{
		TempLocations: []config.Target{
			{Name: "user_temp", Enabled: true},
			{Name: "prefetch"},
		},
		Browsers: []config.BrowserCfg{
			{Name: "chrome", Enabled: true},
			{Name: "opera"},
		},
		RecycleBin: config.RecycleBinCfg{Enabled: true},
	}
	tests := []struct {
		name    string
		args    []string
		flags   cleanFlags
		want    []string
		wantErr error
	}{
		{name: "default selects enabled", want: nil},
		{name: "explicit names", args: []string{"opera"}, want: []string{"opera"}},
		{name: "temp only", flags: cleanFlags{temp: true}, want: []string{"user_temp"}},
		{name: "browser only", flags: cleanFlags{browser: true}, want: []string{"chrome"}},
		{name: "temp and browser", flags: cleanFlags{temp: true, browser: true}, want: []string{"user_temp", "chrome"}},
		{name: "all includes disabled", flags: cleanFlags{all: true},
			want: []string{"user_temp", "prefetch", "chrome", "opera", scheduler.RecycleBinTarget}},
		{name: "names and flags conflict", args: []string{"chrome"}, flags: cleanFlags{all: true}, wantErr: errUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectTargets(cfg, tt.args, tt.flags)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, expected %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("selectTargets() = %v, expected %v", got, tt.want)
			}
		})
	}

	if _, err := selectTargets(&config.Config{}, nil, cleanFlags{browser: true}); !errors.Is(err, scheduler.ErrNoTargets) {
		t.Errorf("empty category error = %v", err)
	}
}
